package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/security"
)

type memEscrowRepo struct {
	txns       []*models.Transaction
	milestones []*models.Milestone
	tasks      []*models.AdditionalTask
	profiles   map[uuid.UUID]string
	settings   *models.PlatformSettings
}

func (m *memEscrowRepo) WithTx(tx *gorm.DB) Repository { return m }

func (m *memEscrowRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	m.txns = append(m.txns, txn)
	return txn, nil
}

func (m *memEscrowRepo) FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	for _, txn := range m.txns {
		if txn.ID == id {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	for _, txn := range m.txns {
		if txn.GatewayOrderID != nil && *txn.GatewayOrderID == orderID {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) FindTransactionByTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	for _, txn := range m.txns {
		if txn.PayoutTransferID != nil && *txn.PayoutTransferID == transferID {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) ListTransactionsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, txn := range m.txns {
		if txn.JobID == jobID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (m *memEscrowRepo) FindOpenJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	for i := len(m.txns) - 1; i >= 0; i-- {
		txn := m.txns[i]
		if txn.JobID == jobID && txn.Kind == enums.TransactionKindJob &&
			(txn.Status == enums.TransactionStatusPending || txn.Status == enums.TransactionStatusFunded) {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) FindFundedJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	for _, txn := range m.txns {
		if txn.JobID == jobID && txn.Kind == enums.TransactionKindJob && txn.Status == enums.TransactionStatusFunded {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) TransitionTransaction(ctx context.Context, txnID uuid.UUID, from enums.TransactionStatus, updates map[string]any) (int64, error) {
	for _, txn := range m.txns {
		if txn.ID != txnID || txn.Status != from {
			continue
		}
		applyTxnUpdates(txn, updates)
		return 1, nil
	}
	return 0, nil
}

func (m *memEscrowRepo) UpdateTransaction(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	for _, txn := range m.txns {
		if txn.ID == txnID {
			applyTxnUpdates(txn, updates)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func applyTxnUpdates(txn *models.Transaction, updates map[string]any) {
	if status, ok := updates["status"].(enums.TransactionStatus); ok {
		txn.Status = status
	}
	if v, ok := updates["funded_at"].(time.Time); ok {
		txn.FundedAt = &v
	}
	if v, ok := updates["released_at"].(time.Time); ok {
		txn.ReleasedAt = &v
	}
	if v, ok := updates["failed_at"].(time.Time); ok {
		txn.FailedAt = &v
	}
	if v, ok := updates["refunded_at"].(time.Time); ok {
		txn.RefundedAt = &v
	}
	if v, ok := updates["payout_transfer_id"].(string); ok {
		txn.PayoutTransferID = &v
	}
	if v, ok := updates["refund_id"].(string); ok {
		txn.RefundID = &v
	}
	if v, present := updates["failure_reason"]; present {
		switch reason := v.(type) {
		case string:
			txn.FailureReason = &reason
		case nil:
			txn.FailureReason = nil
		}
	}
}

func (m *memEscrowRepo) FindPayoutProfile(ctx context.Context, installerID uuid.UUID) (*models.PayoutProfile, error) {
	beneficiary, ok := m.profiles[installerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.PayoutProfile{InstallerID: installerID, BeneficiaryID: beneficiary}, nil
}

func (m *memEscrowRepo) UpsertPayoutProfile(ctx context.Context, profile *models.PayoutProfile) error {
	if m.profiles == nil {
		m.profiles = map[uuid.UUID]string{}
	}
	m.profiles[profile.InstallerID] = profile.BeneficiaryID
	return nil
}

func (m *memEscrowRepo) CurrentPlatformSettings(ctx context.Context) (*models.PlatformSettings, error) {
	if m.settings == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.settings, nil
}

func (m *memEscrowRepo) CreateMilestone(ctx context.Context, milestone *models.Milestone) (*models.Milestone, error) {
	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	m.milestones = append(m.milestones, milestone)
	return milestone, nil
}

func (m *memEscrowRepo) FindMilestoneByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	for _, milestone := range m.milestones {
		if milestone.ID == id {
			clone := *milestone
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) SumMilestoneAmounts(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var sum int64
	for _, milestone := range m.milestones {
		if milestone.JobID == jobID {
			sum += milestone.Amount
		}
	}
	return sum, nil
}

func (m *memEscrowRepo) TransitionMilestone(ctx context.Context, milestoneID uuid.UUID, from enums.MilestoneStatus, updates map[string]any) (int64, error) {
	for _, milestone := range m.milestones {
		if milestone.ID != milestoneID || milestone.Status != from {
			continue
		}
		if status, ok := updates["status"].(enums.MilestoneStatus); ok {
			milestone.Status = status
		}
		if v, ok := updates["funded_at"].(time.Time); ok {
			milestone.FundedAt = &v
		}
		if v, ok := updates["released_at"].(time.Time); ok {
			milestone.ReleasedAt = &v
		}
		return 1, nil
	}
	return 0, nil
}

func (m *memEscrowRepo) FindMilestoneTransaction(ctx context.Context, milestoneID uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error) {
	for _, txn := range m.txns {
		if txn.MilestoneID != nil && *txn.MilestoneID == milestoneID && txn.Status == status {
			clone := *txn
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) CreateTask(ctx context.Context, task *models.AdditionalTask) (*models.AdditionalTask, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *memEscrowRepo) FindTaskByID(ctx context.Context, id uuid.UUID) (*models.AdditionalTask, error) {
	for _, task := range m.tasks {
		if task.ID == id {
			clone := *task
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memEscrowRepo) TransitionTask(ctx context.Context, taskID uuid.UUID, from enums.TaskStatus, updates map[string]any) (int64, error) {
	for _, task := range m.tasks {
		if task.ID != taskID || task.Status != from {
			continue
		}
		if status, ok := updates["status"].(enums.TaskStatus); ok {
			task.Status = status
		}
		if v, ok := updates["quoted_amount"].(int64); ok {
			task.QuotedAmount = &v
		}
		if v, ok := updates["quoted_at"].(time.Time); ok {
			task.QuotedAt = &v
		}
		return 1, nil
	}
	return 0, nil
}

func (m *memEscrowRepo) ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	return nil, nil
}

type memJobsRepo struct {
	job *models.Job
}

func (m *memJobsRepo) WithTx(tx *gorm.DB) jobs.Repository { return m }

func (m *memJobsRepo) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	m.job = job
	return job, nil
}

func (m *memJobsRepo) FindJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if m.job == nil || m.job.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *m.job
	return &clone, nil
}

func (m *memJobsRepo) ListJobsByGiver(ctx context.Context, giverID uuid.UUID) ([]models.Job, error) {
	return nil, nil
}

func (m *memJobsRepo) ListJobsByInstaller(ctx context.Context, installerID uuid.UUID) ([]models.Job, error) {
	return nil, nil
}

func (m *memJobsRepo) ListFundingLapsedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	return nil, nil
}

func (m *memJobsRepo) TransitionJob(ctx context.Context, jobID uuid.UUID, from enums.JobStatus, updates map[string]any) (int64, error) {
	if m.job == nil || m.job.ID != jobID || m.job.Status != from {
		return 0, nil
	}
	if status, ok := updates["status"].(enums.JobStatus); ok {
		m.job.Status = status
	}
	if v, ok := updates["start_otp"].(string); ok {
		m.job.StartOTP = &v
	}
	if v, present := updates["completion_otp"]; present {
		switch hash := v.(type) {
		case string:
			m.job.CompletionOTP = &hash
		case nil:
			m.job.CompletionOTP = nil
		}
	}
	if v, ok := updates["settled_by"].(enums.SettlementReason); ok {
		m.job.SettledBy = &v
	}
	if v, ok := updates["audit_note"].(string); ok {
		m.job.AuditNote = &v
	}
	if v, ok := updates["completed_at"].(time.Time); ok {
		m.job.CompletedAt = &v
	}
	return 1, nil
}

func (m *memJobsRepo) ConsumeStartCode(ctx context.Context, jobID uuid.UUID, updates map[string]any) (int64, error) {
	return 0, nil
}

func (m *memJobsRepo) UpdateJob(ctx context.Context, jobID uuid.UUID, updates map[string]any) error {
	return nil
}

type runTx struct{}

func (runTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type captureOutbox struct {
	events []outbox.DomainEvent
}

func (c *captureOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureOutbox) has(eventType enums.OutboxEventType) bool {
	for _, e := range c.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type stubGateway struct {
	orders      []gateway.OrderCreateParams
	transfers   []gateway.TransferParams
	refunds     []gateway.RefundParams
	orderErr    error
	transferErr error
	refundErr   error
}

func (g *stubGateway) CreateOrder(ctx context.Context, params gateway.OrderCreateParams) (*gateway.Order, error) {
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.orders = append(g.orders, params)
	return &gateway.Order{OrderID: params.OrderID, SessionID: "sess-" + params.OrderID}, nil
}

func (g *stubGateway) InitiateTransfer(ctx context.Context, params gateway.TransferParams) (*gateway.Transfer, error) {
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, params)
	return &gateway.Transfer{TransferID: params.TransferID, Status: "SUCCESS", Amount: params.Amount}, nil
}

func (g *stubGateway) CreateRefund(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, params)
	return &gateway.Refund{RefundID: params.RefundID, OrderID: params.OrderID, Amount: params.Amount}, nil
}

type allowLimiter struct {
	allowed bool
}

func (l *allowLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	return l.allowed, 1, nil
}

func (l *allowLimiter) OTPAttemptScope(jobID, userID string) string {
	return "otp:" + jobID + ":" + userID
}

type captureNotifier struct {
	codes []string
}

func (n *captureNotifier) StartCodeIssued(ctx context.Context, jobID, giverID uuid.UUID, code string) {
	n.codes = append(n.codes, code)
}

type escrowFixture struct {
	svc      Service
	repo     *memEscrowRepo
	jobsRepo *memJobsRepo
	gw       *stubGateway
	events   *captureOutbox
	notifier *captureNotifier
	giver    uuid.UUID
	worker   uuid.UUID
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()
	f := &escrowFixture{
		repo: &memEscrowRepo{
			profiles: map[uuid.UUID]string{},
			settings: &models.PlatformSettings{
				ID:              1,
				JobGiverFeeRate: decimal.RequireFromString("2.5"),
				CommissionRate:  decimal.RequireFromString("10"),
				Version:         1,
			},
		},
		jobsRepo: &memJobsRepo{},
		gw:       &stubGateway{},
		events:   &captureOutbox{},
		notifier: &captureNotifier{},
		giver:    uuid.New(),
		worker:   uuid.New(),
	}
	f.repo.profiles[f.worker] = "bene-1"

	svc, err := NewService(
		f.repo,
		f.jobsRepo,
		runTx{},
		f.gw,
		f.events,
		&allowLimiter{allowed: true},
		f.notifier,
		nil,
		logger.New(logger.Options{ServiceName: "escrow-test"}),
		config.EscrowConfig{
			JobGiverFeePercent:      "2.5",
			CommissionPercent:       "10",
			CancellationFeePercent:  "2.5",
			AutoSettleGraceDays:     5,
			AcceptanceDeadlineHours: 24,
			FundingDeadlineHours:    48,
		},
		config.OTPRateLimitConfig{VerifyWindow: 5 * time.Minute, VerifyAttempts: 5},
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *escrowFixture) seedJob(t *testing.T, status enums.JobStatus, agreed int64) *models.Job {
	t.Helper()
	deadline := time.Now().UTC().Add(24 * time.Hour)
	job := &models.Job{
		ID:                 uuid.New(),
		JobGiverID:         f.giver,
		Title:              "CCTV install",
		Status:             status,
		BudgetMax:          20000,
		AgreedAmount:       &agreed,
		AwardedInstallerID: &f.worker,
		FundingDeadline:    &deadline,
	}
	f.jobsRepo.job = job
	return job
}

func (f *escrowFixture) seedFundedTxn(t *testing.T, job *models.Job) *models.Transaction {
	t.Helper()
	orderID := "ORDER-seed"
	txn := &models.Transaction{
		ID:                uuid.New(),
		JobID:             job.ID,
		Kind:              enums.TransactionKindJob,
		Status:            enums.TransactionStatusFunded,
		PayerID:           job.JobGiverID,
		PayeeID:           job.AwardedInstallerID,
		Amount:            8000,
		JobGiverFee:       200,
		Commission:        800,
		TotalPaidByGiver:  8200,
		PayoutToInstaller: 7200,
		GatewayOrderID:    &orderID,
	}
	f.repo.txns = append(f.repo.txns, txn)
	return txn
}

func TestFundOpensGatewayOrderAndLedgerRow(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)

	session, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if session.Amount != 8000 || session.JobGiverFee != 200 || session.TotalPayable != 8200 {
		t.Fatalf("unexpected split: %+v", session)
	}
	if len(f.gw.orders) != 1 || f.gw.orders[0].Amount != 8200 {
		t.Fatalf("gateway order = %+v", f.gw.orders)
	}
	if len(f.repo.txns) != 1 {
		t.Fatalf("expected one transaction, got %d", len(f.repo.txns))
	}
	txn := f.repo.txns[0]
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("transaction status = %s", txn.Status)
	}
	if txn.PayoutToInstaller != 7200 {
		t.Fatalf("payout = %d", txn.PayoutToInstaller)
	}
	if txn.GatewayOrderID == nil || !strings.HasPrefix(*txn.GatewayOrderID, "ORDER-") {
		t.Fatalf("gateway order id = %v", txn.GatewayOrderID)
	}
}

func TestFundRetryReturnsExistingSession(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)

	first, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("first Fund: %v", err)
	}
	second, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("second Fund: %v", err)
	}
	if first.TransactionID != second.TransactionID || first.GatewaySessionID != second.GatewaySessionID {
		t.Fatalf("retry opened a new session: %+v vs %+v", first, second)
	}
	if len(f.gw.orders) != 1 {
		t.Fatalf("expected a single gateway order, got %d", len(f.gw.orders))
	}
}

func TestFundGatewayErrorLeavesNoLedgerRow(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	f.gw.orderErr = errors.New("gateway down")

	if _, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.repo.txns) != 0 {
		t.Fatalf("ledger row written despite gateway failure: %+v", f.repo.txns)
	}
}

func TestFundRejectsDisputedJob(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusDisputed, 8000)

	_, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDisputeFrozen) {
		t.Fatalf("expected dispute-frozen, got %v", err)
	}
}

func TestFundRejectsForeignGiver(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)

	_, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: uuid.New()})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestFundLapsedDeadlineCancelsJobOnReadPath(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	lapsed := time.Now().UTC().Add(-time.Hour)
	job.FundingDeadline = &lapsed

	_, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid-transition, got %v", err)
	}
	if f.jobsRepo.job.Status != enums.JobStatusCancelled {
		t.Fatalf("expected job cancelled by the read path, got %s", f.jobsRepo.job.Status)
	}
	if !f.events.has(enums.EventJobCancelled) {
		t.Fatal("expected job.cancelled event from the lazy sweep")
	}
	if len(f.gw.orders) != 0 {
		t.Fatalf("no gateway order should open after the window, got %+v", f.gw.orders)
	}
}

func TestFundLapsedDeadlineFailsPendingCycle(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)

	// Open a session inside the window, then let the deadline lapse before
	// the giver returns to pay.
	if _, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver}); err != nil {
		t.Fatalf("first Fund: %v", err)
	}
	lapsed := time.Now().UTC().Add(-time.Hour)
	f.jobsRepo.job.FundingDeadline = &lapsed

	_, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid-transition, got %v", err)
	}
	if got := f.repo.txns[0].Status; got != enums.TransactionStatusFailed {
		t.Fatalf("pending cycle should fail with the sweep, got %s", got)
	}
	if !f.events.has(enums.EventFundingFailed) {
		t.Fatal("expected funding.failed event for the abandoned cycle")
	}
}

func TestCompleteReleasesEscrowAndInitiatesPayout(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingConfirmation, 8000)
	hash, err := security.HashOTP("482913")
	if err != nil {
		t.Fatalf("HashOTP: %v", err)
	}
	job.CompletionOTP = &hash
	txn := f.seedFundedTxn(t, job)

	got, err := f.svc.Complete(context.Background(), CompleteJobInput{
		JobID:   job.ID,
		ActorID: f.worker,
		Code:    "482913",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != enums.JobStatusCompleted {
		t.Fatalf("job status = %s", got.Status)
	}
	if got.SettledBy == nil || *got.SettledBy != enums.SettlementReasonOtp {
		t.Fatalf("settled_by = %v", got.SettledBy)
	}
	if got.CompletionOTP != nil {
		t.Fatal("completion code not cleared")
	}

	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusReleased {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	wantTransfer := "PAYOUT-" + txn.ID.String()
	if stored.PayoutTransferID == nil || *stored.PayoutTransferID != wantTransfer {
		t.Fatalf("transfer id = %v", stored.PayoutTransferID)
	}
	if len(f.gw.transfers) != 1 || f.gw.transfers[0].Amount != 7200 || f.gw.transfers[0].BeneficiaryID != "bene-1" {
		t.Fatalf("transfer = %+v", f.gw.transfers)
	}
	if !f.events.has(enums.EventJobCompleted) || !f.events.has(enums.EventPayoutReleased) {
		t.Fatalf("missing events: %+v", f.events.events)
	}
}

func TestCompleteRejectsWrongCode(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingConfirmation, 8000)
	hash, _ := security.HashOTP("482913")
	job.CompletionOTP = &hash
	txn := f.seedFundedTxn(t, job)

	_, err := f.svc.Complete(context.Background(), CompleteJobInput{JobID: job.ID, ActorID: f.worker, Code: "000000"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusFunded {
		t.Fatalf("escrow moved on a wrong code: %s", stored.Status)
	}
}

func TestCompleteWithoutPayoutProfile(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingConfirmation, 8000)
	hash, _ := security.HashOTP("482913")
	job.CompletionOTP = &hash
	f.seedFundedTxn(t, job)
	delete(f.repo.profiles, f.worker)

	_, err := f.svc.Complete(context.Background(), CompleteJobInput{JobID: job.ID, ActorID: f.worker, Code: "482913"})
	if !pkgerrors.IsCode(err, pkgerrors.CodePayoutConfig) {
		t.Fatalf("expected payout-config error, got %v", err)
	}
	if f.jobsRepo.job.Status != enums.JobStatusPendingConfirmation {
		t.Fatalf("job moved without a payout destination: %s", f.jobsRepo.job.Status)
	}
	if len(f.gw.transfers) != 0 {
		t.Fatal("transfer attempted without a payout destination")
	}
}

func TestCompleteTransferFailureKeepsRelease(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingConfirmation, 8000)
	hash, _ := security.HashOTP("482913")
	job.CompletionOTP = &hash
	txn := f.seedFundedTxn(t, job)
	f.gw.transferErr = errors.New("beneficiary inactive")

	if _, err := f.svc.Complete(context.Background(), CompleteJobInput{JobID: job.ID, ActorID: f.worker, Code: "482913"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusReleased {
		t.Fatalf("release unwound by transfer failure: %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "beneficiary inactive" {
		t.Fatalf("failure reason = %v", stored.FailureReason)
	}
}

func TestAutoSettleReleasesWithAuditNote(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingConfirmation, 8000)
	txn := f.seedFundedTxn(t, job)

	if err := f.svc.AutoSettle(context.Background(), job.ID); err != nil {
		t.Fatalf("AutoSettle: %v", err)
	}
	if f.jobsRepo.job.Status != enums.JobStatusCompleted {
		t.Fatalf("job status = %s", f.jobsRepo.job.Status)
	}
	if f.jobsRepo.job.SettledBy == nil || *f.jobsRepo.job.SettledBy != enums.SettlementReasonAuto {
		t.Fatalf("settled_by = %v", f.jobsRepo.job.SettledBy)
	}
	if f.jobsRepo.job.AuditNote == nil || !strings.Contains(*f.jobsRepo.job.AuditNote, "auto-settled") {
		t.Fatalf("audit note = %v", f.jobsRepo.job.AuditNote)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	wantTransfer := "AUTOSETTLE-" + txn.ID.String()
	if stored.PayoutTransferID == nil || *stored.PayoutTransferID != wantTransfer {
		t.Fatalf("transfer id = %v", stored.PayoutTransferID)
	}
	if !f.events.has(enums.EventJobAutoSettled) {
		t.Fatalf("missing auto-settle event: %+v", f.events.events)
	}
}

func TestCancelFundingFailsPendingCycle(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	session, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}

	fee, err := f.svc.CancelFunding(context.Background(), nil, job, f.giver)
	if err != nil {
		t.Fatalf("CancelFunding: %v", err)
	}
	if fee != 0 {
		t.Fatalf("fee for uncaptured cycle = %d", fee)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), session.TransactionID)
	if stored.Status != enums.TransactionStatusFailed {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if !f.events.has(enums.EventFundingFailed) {
		t.Fatalf("missing funding-failed event: %+v", f.events.events)
	}
}

func TestCancelFundingRefundsCapturedCycleMinusFee(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	txn := f.seedFundedTxn(t, job)

	fee, err := f.svc.CancelFunding(context.Background(), nil, job, f.giver)
	if err != nil {
		t.Fatalf("CancelFunding: %v", err)
	}
	// 2.5% of 8200, rounded up.
	if fee != 205 {
		t.Fatalf("cancellation fee = %d", fee)
	}
	if len(f.gw.refunds) != 1 || f.gw.refunds[0].Amount != 7995 {
		t.Fatalf("refund = %+v", f.gw.refunds)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusRefunded {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if stored.RefundID == nil || *stored.RefundID != "CANCEL-"+txn.ID.String() {
		t.Fatalf("refund id = %v", stored.RefundID)
	}
	if !f.events.has(enums.EventRefundIssued) {
		t.Fatalf("missing refund event: %+v", f.events.events)
	}
}

func TestCancelFundingRefundErrorAborts(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	txn := f.seedFundedTxn(t, job)
	f.gw.refundErr = errors.New("refund rejected")

	if _, err := f.svc.CancelFunding(context.Background(), nil, job, f.giver); err == nil {
		t.Fatal("expected error")
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusFunded {
		t.Fatalf("ledger moved without a gateway refund: %s", stored.Status)
	}
}

func TestApplyCaptureSuccessAdvancesJobAndIssuesStartCode(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	session, err := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}

	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ApplyCaptureSuccess: %v", err)
	}
	if !applied {
		t.Fatal("capture not applied")
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), session.TransactionID)
	if stored.Status != enums.TransactionStatusFunded {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if f.jobsRepo.job.Status != enums.JobStatusInProgress {
		t.Fatalf("job status = %s", f.jobsRepo.job.Status)
	}
	if f.jobsRepo.job.StartOTP == nil {
		t.Fatal("no start code stored")
	}
	if len(f.notifier.codes) != 1 {
		t.Fatalf("start codes delivered = %d", len(f.notifier.codes))
	}
	ok, err := security.VerifyOTP(f.notifier.codes[0], *f.jobsRepo.job.StartOTP)
	if err != nil || !ok {
		t.Fatalf("delivered code does not match stored hash: ok=%v err=%v", ok, err)
	}
	if !f.events.has(enums.EventJobFunded) {
		t.Fatalf("missing funded event: %+v", f.events.events)
	}
}

func TestApplyCaptureSuccessUnknownOrder(t *testing.T) {
	f := newEscrowFixture(t)

	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), "ORDER-unknown", time.Now().UTC())
	if err != nil || applied {
		t.Fatalf("unknown order should ack without effect: applied=%v err=%v", applied, err)
	}
}

func TestApplyCaptureSuccessDuplicateDelivery(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	session, _ := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})

	if _, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC())
	if err != nil || applied {
		t.Fatalf("duplicate delivery should be a no-op: applied=%v err=%v", applied, err)
	}
	if len(f.notifier.codes) != 1 {
		t.Fatalf("start code issued twice: %d", len(f.notifier.codes))
	}
}

func TestApplyCaptureSuccessAfterCancellationRefunds(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	session, _ := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})
	f.jobsRepo.job.Status = enums.JobStatusCancelled

	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC())
	if err != nil {
		t.Fatalf("ApplyCaptureSuccess: %v", err)
	}
	if !applied {
		t.Fatal("capture not applied")
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), session.TransactionID)
	if stored.Status != enums.TransactionStatusRefunded {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if len(f.gw.refunds) != 1 || f.gw.refunds[0].Amount != 8200 {
		t.Fatalf("expected a full refund, got %+v", f.gw.refunds)
	}
	if len(f.notifier.codes) != 0 {
		t.Fatal("start code issued for a cancelled job")
	}
}

func TestApplyCaptureFailureKeepsJobFundable(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusPendingFunding, 8000)
	session, _ := f.svc.Fund(context.Background(), FundJobInput{JobID: job.ID, GiverID: f.giver})

	applied, err := f.svc.ApplyCaptureFailure(context.Background(), session.GatewayOrderID, "card declined", time.Now().UTC())
	if err != nil || !applied {
		t.Fatalf("ApplyCaptureFailure: applied=%v err=%v", applied, err)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), session.TransactionID)
	if stored.Status != enums.TransactionStatusFailed {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "card declined" {
		t.Fatalf("failure reason = %v", stored.FailureReason)
	}
	if f.jobsRepo.job.Status != enums.JobStatusPendingFunding {
		t.Fatalf("job should stay fundable, got %s", f.jobsRepo.job.Status)
	}
}

func TestApplyPayoutFailureMarksReleaseFailed(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusCompleted, 8000)
	txn := f.seedFundedTxn(t, job)
	transferID := "PAYOUT-" + txn.ID.String()
	txn.Status = enums.TransactionStatusReleased
	txn.PayoutTransferID = &transferID

	applied, err := f.svc.ApplyPayoutFailure(context.Background(), transferID, "beneficiary blocked", time.Now().UTC())
	if err != nil || !applied {
		t.Fatalf("ApplyPayoutFailure: applied=%v err=%v", applied, err)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.Status != enums.TransactionStatusFailed {
		t.Fatalf("transaction status = %s", stored.Status)
	}
	if !f.events.has(enums.EventPayoutFailed) {
		t.Fatalf("missing payout-failed event: %+v", f.events.events)
	}
}

func TestApplyPayoutSuccessClearsInitiationFailure(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusCompleted, 8000)
	txn := f.seedFundedTxn(t, job)
	transferID := "PAYOUT-" + txn.ID.String()
	reason := "timeout during initiation"
	txn.Status = enums.TransactionStatusReleased
	txn.PayoutTransferID = &transferID
	txn.FailureReason = &reason

	applied, err := f.svc.ApplyPayoutSuccess(context.Background(), transferID, time.Now().UTC())
	if err != nil || !applied {
		t.Fatalf("ApplyPayoutSuccess: applied=%v err=%v", applied, err)
	}
	stored, _ := f.repo.FindTransactionByID(context.Background(), txn.ID)
	if stored.FailureReason != nil {
		t.Fatalf("failure reason not cleared: %v", stored.FailureReason)
	}

	// A clean release has nothing to reconcile.
	applied, err = f.svc.ApplyPayoutSuccess(context.Background(), transferID, time.Now().UTC())
	if err != nil || applied {
		t.Fatalf("second confirmation should be a no-op: applied=%v err=%v", applied, err)
	}
}

func TestAddMilestoneEnforcesBudgetCeiling(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusInProgress, 8000)

	if _, err := f.svc.AddMilestone(context.Background(), AddMilestoneInput{
		JobID: job.ID, GiverID: f.giver, Title: "first fix", Amount: 15000,
	}); err != nil {
		t.Fatalf("AddMilestone: %v", err)
	}
	_, err := f.svc.AddMilestone(context.Background(), AddMilestoneInput{
		JobID: job.ID, GiverID: f.giver, Title: "second fix", Amount: 6000,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
}

func TestFundAndReleaseMilestone(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusInProgress, 8000)

	m, err := f.svc.AddMilestone(context.Background(), AddMilestoneInput{
		JobID: job.ID, GiverID: f.giver, Title: "first fix", Amount: 4000,
	})
	if err != nil {
		t.Fatalf("AddMilestone: %v", err)
	}
	session, err := f.svc.FundMilestone(context.Background(), FundMilestoneInput{MilestoneID: m.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("FundMilestone: %v", err)
	}
	if session.Amount != 4000 || session.TotalPayable != 4100 {
		t.Fatalf("milestone split = %+v", session)
	}

	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC())
	if err != nil || !applied {
		t.Fatalf("capture: applied=%v err=%v", applied, err)
	}
	stored, _ := f.repo.FindMilestoneByID(context.Background(), m.ID)
	if stored.Status != enums.MilestoneStatusFunded {
		t.Fatalf("milestone status = %s", stored.Status)
	}
	if f.jobsRepo.job.Status != enums.JobStatusInProgress {
		t.Fatalf("milestone capture moved the job: %s", f.jobsRepo.job.Status)
	}

	released, err := f.svc.ReleaseMilestone(context.Background(), ReleaseMilestoneInput{MilestoneID: m.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("ReleaseMilestone: %v", err)
	}
	if released.Status != enums.MilestoneStatusReleased {
		t.Fatalf("milestone status = %s", released.Status)
	}
	if len(f.gw.transfers) != 1 || f.gw.transfers[0].Amount != 3600 {
		t.Fatalf("milestone payout = %+v", f.gw.transfers)
	}
}

func TestVariationOrderFlow(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusInProgress, 8000)

	task, err := f.svc.ProposeTask(context.Background(), ProposeTaskInput{
		JobID: job.ID, CreatedBy: f.worker, Role: enums.RoleInstaller, Description: "extra cable run",
	})
	if err != nil {
		t.Fatalf("ProposeTask: %v", err)
	}
	if !f.events.has(enums.EventTaskProposed) {
		t.Fatalf("missing proposed event: %+v", f.events.events)
	}

	quoted, err := f.svc.QuoteTask(context.Background(), QuoteTaskInput{TaskID: task.ID, InstallerID: f.worker, Amount: 1500})
	if err != nil {
		t.Fatalf("QuoteTask: %v", err)
	}
	if quoted.Status != enums.TaskStatusQuoted || quoted.QuotedAmount == nil || *quoted.QuotedAmount != 1500 {
		t.Fatalf("quoted = %+v", quoted)
	}

	session, err := f.svc.FundTask(context.Background(), FundTaskInput{JobID: job.ID, TaskID: task.ID, GiverID: f.giver})
	if err != nil {
		t.Fatalf("FundTask: %v", err)
	}
	if session.Amount != 1500 {
		t.Fatalf("task amount = %d", session.Amount)
	}
	applied, err := f.svc.ApplyCaptureSuccess(context.Background(), session.GatewayOrderID, time.Now().UTC())
	if err != nil || !applied {
		t.Fatalf("capture: applied=%v err=%v", applied, err)
	}
	stored, _ := f.repo.FindTaskByID(context.Background(), task.ID)
	if stored.Status != enums.TaskStatusFunded {
		t.Fatalf("task status = %s", stored.Status)
	}
}

func TestQuoteTaskRequiresAssignedInstaller(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusInProgress, 8000)
	task, err := f.svc.ProposeTask(context.Background(), ProposeTaskInput{
		JobID: job.ID, CreatedBy: f.giver, Role: enums.RoleJobGiver, Description: "paint patch",
	})
	if err != nil {
		t.Fatalf("ProposeTask: %v", err)
	}

	_, err = f.svc.QuoteTask(context.Background(), QuoteTaskInput{TaskID: task.ID, InstallerID: uuid.New(), Amount: 900})
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeclineTaskAfterFundingRejected(t *testing.T) {
	f := newEscrowFixture(t)
	job := f.seedJob(t, enums.JobStatusInProgress, 8000)
	task, _ := f.svc.ProposeTask(context.Background(), ProposeTaskInput{
		JobID: job.ID, CreatedBy: f.giver, Role: enums.RoleJobGiver, Description: "paint patch",
	})
	if _, err := f.svc.QuoteTask(context.Background(), QuoteTaskInput{TaskID: task.ID, InstallerID: f.worker, Amount: 900}); err != nil {
		t.Fatalf("QuoteTask: %v", err)
	}

	declined, err := f.svc.DeclineTask(context.Background(), DeclineTaskInput{TaskID: task.ID, ActorID: f.giver})
	if err != nil {
		t.Fatalf("DeclineTask: %v", err)
	}
	if declined.Status != enums.TaskStatusDeclined {
		t.Fatalf("task status = %s", declined.Status)
	}

	_, err = f.svc.DeclineTask(context.Background(), DeclineTaskInput{TaskID: task.ID, ActorID: f.giver})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

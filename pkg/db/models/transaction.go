package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Transaction is the escrow ledger record for a funding cycle. All money
// fields are whole rupees; fee rates are snapshotted at creation so later
// platform-rate changes never reprice an in-flight escrow.
//
// Invariants held at creation and never rewritten:
//
//	TotalPaidByGiver == Amount + JobGiverFee
//	PayoutToInstaller == Amount - Commission
type Transaction struct {
	ID     uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID  uuid.UUID               `gorm:"column:job_id;type:uuid;not null;index"`
	Kind   enums.TransactionKind   `gorm:"column:kind;type:transaction_kind_enum;not null;default:'job'"`
	Status enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`

	PayerID uuid.UUID  `gorm:"column:payer_id;type:uuid;not null"`
	PayeeID *uuid.UUID `gorm:"column:payee_id;type:uuid"`

	TaskID      *uuid.UUID `gorm:"column:task_id;type:uuid"`
	MilestoneID *uuid.UUID `gorm:"column:milestone_id;type:uuid"`

	Amount            int64 `gorm:"column:amount;not null"`
	JobGiverFee       int64 `gorm:"column:job_giver_fee;not null"`
	Commission        int64 `gorm:"column:commission;not null"`
	TotalPaidByGiver  int64 `gorm:"column:total_paid_by_giver;not null"`
	PayoutToInstaller int64 `gorm:"column:payout_to_installer;not null"`

	JobGiverFeeRate decimal.Decimal `gorm:"column:job_giver_fee_rate;type:numeric(6,3);not null"`
	CommissionRate  decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,3);not null"`

	GatewayOrderID   *string `gorm:"column:gateway_order_id;uniqueIndex"`
	GatewaySessionID *string `gorm:"column:gateway_session_id"`
	PayoutTransferID *string `gorm:"column:payout_transfer_id;uniqueIndex"`
	RefundID         *string `gorm:"column:refund_id"`
	FailureReason    *string `gorm:"column:failure_reason"`

	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	FundedAt   *time.Time `gorm:"column:funded_at"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	FailedAt   *time.Time `gorm:"column:failed_at"`
	RefundedAt *time.Time `gorm:"column:refunded_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

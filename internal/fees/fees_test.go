package fees

import (
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
)

func rate(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad rate %q: %v", s, err)
	}
	return d
}

func TestComputeSplitStandardRates(t *testing.T) {
	split, err := ComputeSplit(8000, rate(t, "2.5"), rate(t, "10"))
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if split.JobGiverFee != 200 {
		t.Fatalf("job giver fee = %d, want 200", split.JobGiverFee)
	}
	if split.Commission != 800 {
		t.Fatalf("commission = %d, want 800", split.Commission)
	}
	if split.TotalPaidByGiver != 8200 {
		t.Fatalf("total = %d, want 8200", split.TotalPaidByGiver)
	}
	if split.PayoutToInstaller != 7200 {
		t.Fatalf("payout = %d, want 7200", split.PayoutToInstaller)
	}
}

func TestComputeSplitRoundsFeesUp(t *testing.T) {
	// 2.5% of 8001 = 200.025, 10% of 8001 = 800.1; both must ceil.
	split, err := ComputeSplit(8001, rate(t, "2.5"), rate(t, "10"))
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if split.JobGiverFee != 201 {
		t.Fatalf("job giver fee = %d, want 201", split.JobGiverFee)
	}
	if split.Commission != 801 {
		t.Fatalf("commission = %d, want 801", split.Commission)
	}
	if split.TotalPaidByGiver != split.Amount+split.JobGiverFee {
		t.Fatalf("total %d does not reconcile with amount %d + fee %d",
			split.TotalPaidByGiver, split.Amount, split.JobGiverFee)
	}
	if split.PayoutToInstaller != split.Amount-split.Commission {
		t.Fatalf("payout %d does not reconcile with amount %d - commission %d",
			split.PayoutToInstaller, split.Amount, split.Commission)
	}
}

func TestComputeSplitReconcilesAcrossAmounts(t *testing.T) {
	giverRate := rate(t, "2.5")
	commissionRate := rate(t, "10")
	for _, amount := range []int64{1, 7, 99, 101, 8000, 8001, 123457, 999999} {
		split, err := ComputeSplit(amount, giverRate, commissionRate)
		if err != nil {
			t.Fatalf("ComputeSplit(%d): %v", amount, err)
		}
		if split.TotalPaidByGiver != amount+split.JobGiverFee {
			t.Fatalf("amount %d: total %d, fee %d", amount, split.TotalPaidByGiver, split.JobGiverFee)
		}
		if split.PayoutToInstaller != amount-split.Commission {
			t.Fatalf("amount %d: payout %d, commission %d", amount, split.PayoutToInstaller, split.Commission)
		}
		if split.PayoutToInstaller < 0 {
			t.Fatalf("amount %d: negative payout %d", amount, split.PayoutToInstaller)
		}
	}
}

func TestComputeSplitSnapshotsRates(t *testing.T) {
	giverRate := rate(t, "3.75")
	commissionRate := rate(t, "12.5")
	split, err := ComputeSplit(1000, giverRate, commissionRate)
	if err != nil {
		t.Fatalf("ComputeSplit: %v", err)
	}
	if !split.JobGiverFeeRate.Equal(giverRate) || !split.CommissionRate.Equal(commissionRate) {
		t.Fatalf("rates not carried through: %s / %s", split.JobGiverFeeRate, split.CommissionRate)
	}
}

func TestComputeSplitRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name           string
		amount         int64
		giver, commiss string
	}{
		{"zero amount", 0, "2.5", "10"},
		{"negative amount", -100, "2.5", "10"},
		{"negative fee rate", 1000, "-1", "10"},
		{"negative commission", 1000, "2.5", "-10"},
		{"commission at 100", 1000, "2.5", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeSplit(tc.amount, rate(t, tc.giver), rate(t, tc.commiss))
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestCancellationFee(t *testing.T) {
	if got := CancellationFee(8000, rate(t, "2.5")); got != 200 {
		t.Fatalf("fee = %d, want 200", got)
	}
	// 2.5% of 10 = 0.25, rounds up to a whole rupee.
	if got := CancellationFee(10, rate(t, "2.5")); got != 1 {
		t.Fatalf("fee = %d, want 1", got)
	}
	if got := CancellationFee(8000, decimal.Zero); got != 0 {
		t.Fatalf("fee = %d, want 0 for zero rate", got)
	}
	if got := CancellationFee(0, rate(t, "2.5")); got != 0 {
		t.Fatalf("fee = %d, want 0 for zero amount", got)
	}
	// Fee never exceeds the refundable amount.
	if got := CancellationFee(1, rate(t, "2.5")); got != 1 {
		t.Fatalf("fee = %d, want capped at 1", got)
	}
}

func TestDisputeSplit(t *testing.T) {
	toInstaller, toGiver, err := DisputeSplit(1001, 50)
	if err != nil {
		t.Fatalf("DisputeSplit: %v", err)
	}
	// Installer share floors; the giver refund absorbs the odd rupee.
	if toInstaller != 500 || toGiver != 501 {
		t.Fatalf("split = %d/%d, want 500/501", toInstaller, toGiver)
	}

	toInstaller, toGiver, err = DisputeSplit(1000, 0)
	if err != nil {
		t.Fatalf("DisputeSplit: %v", err)
	}
	if toInstaller != 0 || toGiver != 1000 {
		t.Fatalf("split = %d/%d, want 0/1000", toInstaller, toGiver)
	}

	toInstaller, toGiver, err = DisputeSplit(1000, 100)
	if err != nil {
		t.Fatalf("DisputeSplit: %v", err)
	}
	if toInstaller != 1000 || toGiver != 0 {
		t.Fatalf("split = %d/%d, want 1000/0", toInstaller, toGiver)
	}

	if _, _, err := DisputeSplit(1000, 101); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, _, err := DisputeSplit(0, 50); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestParseRate(t *testing.T) {
	d, err := ParseRate("2.5")
	if err != nil {
		t.Fatalf("ParseRate: %v", err)
	}
	if !d.Equal(rate(t, "2.5")) {
		t.Fatalf("rate = %s, want 2.5", d)
	}
	if _, err := ParseRate(""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, err := ParseRate("ten"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

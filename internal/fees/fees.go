package fees

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Split is the full fee breakdown for one escrow funding cycle. All amounts
// are whole rupees and reconcile by construction:
//
//	TotalPaidByGiver == Amount + JobGiverFee
//	PayoutToInstaller == Amount - Commission
type Split struct {
	Amount            int64
	JobGiverFee       int64
	Commission        int64
	TotalPaidByGiver  int64
	PayoutToInstaller int64

	// Rates as applied, for snapshotting into the transaction row.
	JobGiverFeeRate decimal.Decimal
	CommissionRate  decimal.Decimal
}

// ComputeSplit derives the giver fee, platform commission, total charge and
// installer payout for a base amount. Both fee and commission round up to the
// next rupee so the platform never under-collects; the payout rounds down
// implicitly.
func ComputeSplit(amount int64, jobGiverFeeRate, commissionRate decimal.Decimal) (Split, error) {
	if amount <= 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if jobGiverFeeRate.IsNegative() || commissionRate.IsNegative() {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "fee rates must not be negative")
	}
	if commissionRate.GreaterThanOrEqual(hundred) {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be below 100 percent")
	}

	base := decimal.NewFromInt(amount)
	fee := base.Mul(jobGiverFeeRate).Div(hundred).Ceil().IntPart()
	commission := base.Mul(commissionRate).Div(hundred).Ceil().IntPart()

	return Split{
		Amount:            amount,
		JobGiverFee:       fee,
		Commission:        commission,
		TotalPaidByGiver:  amount + fee,
		PayoutToInstaller: amount - commission,
		JobGiverFeeRate:   jobGiverFeeRate,
		CommissionRate:    commissionRate,
	}, nil
}

// CancellationFee is the charge withheld from a refund when the job giver
// cancels a funded job. Rounds up like the other platform fees.
func CancellationFee(amount int64, rate decimal.Decimal) int64 {
	if amount <= 0 || !rate.IsPositive() {
		return 0
	}
	fee := decimal.NewFromInt(amount).Mul(rate).Div(hundred).Ceil().IntPart()
	if fee > amount {
		return amount
	}
	return fee
}

// DisputeSplit divides an escrowed amount between the two sides of a resolved
// dispute. splitPercent is the installer's share; the installer portion rounds
// down so the refund side absorbs the remainder rupee.
func DisputeSplit(amount int64, splitPercent int) (toInstaller, toGiver int64, err error) {
	if amount <= 0 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if splitPercent < 0 || splitPercent > 100 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "split percent must be between 0 and 100")
	}
	toInstaller = decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(splitPercent))).
		Div(hundred).
		Floor().
		IntPart()
	return toInstaller, amount - toInstaller, nil
}

// ParseRate converts a platform-settings rate string like "2.5" into a
// decimal rate. Empty strings are rejected rather than treated as zero.
func ParseRate(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, "fee rate is empty")
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "fee rate is not a valid decimal")
	}
	return rate, nil
}

// Package schedule builds installment schedules for plot sale contracts.
// It performs no I/O.
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

// Params are the contract terms a schedule is derived from
type Params struct {
	StartDate          time.Time
	TotalContractValue decimal.Decimal
	TermMonths         int
	Plan               models.PurchasePlan
	DownpaymentPercent *decimal.Decimal
	DownpaymentAmount  *decimal.Decimal
}

// Installment is one row of a generated schedule
type Installment struct {
	InstallmentNo int
	DueDate       time.Time
	AmountDue     decimal.Decimal
}

// InvalidScheduleError is returned when the terms cannot produce a valid schedule
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule: %s", e.Reason)
}

func invalid(format string, args ...interface{}) error {
	return &InvalidScheduleError{Reason: fmt.Sprintf(format, args...)}
}

var hundred = decimal.NewFromInt(100)

// Generate returns the ordered installment schedule for p.
// Installment amounts sum exactly to the total contract value; the last
// installment absorbs the rounding remainder.
func Generate(p Params) ([]Installment, error) {
	if !p.TotalContractValue.IsPositive() {
		return nil, invalid("total contract value must be positive")
	}
	if p.TermMonths < 1 {
		return nil, invalid("term must be at least 1 month, got %d", p.TermMonths)
	}

	total := models.RoundMoney(p.TotalContractValue)
	var amounts []decimal.Decimal

	switch p.Plan {
	case models.PlanFlatRate:
		shares, err := split(total, p.TermMonths)
		if err != nil {
			return nil, err
		}
		amounts = shares

	case models.PlanDownpayment:
		if p.TermMonths < 2 {
			return nil, invalid("downpayment plan needs at least 2 installments, got %d", p.TermMonths)
		}
		down, err := ResolveDownpayment(total, p.DownpaymentPercent, p.DownpaymentAmount)
		if err != nil {
			return nil, err
		}
		shares, err := split(total.Sub(down), p.TermMonths-1)
		if err != nil {
			return nil, err
		}
		amounts = append([]decimal.Decimal{down}, shares...)

	default:
		return nil, invalid("unsupported purchase plan %q", p.Plan)
	}

	start := models.DateOf(p.StartDate)
	installments := make([]Installment, len(amounts))
	for i, amount := range amounts {
		installments[i] = Installment{
			InstallmentNo: i + 1,
			DueDate:       AddMonths(start, i),
			AmountDue:     amount,
		}
	}
	return installments, nil
}

// ResolveDownpayment returns the downpayment in currency units. An explicit
// amount wins over a percentage of the total.
func ResolveDownpayment(total decimal.Decimal, percent, amount *decimal.Decimal) (decimal.Decimal, error) {
	var down decimal.Decimal
	switch {
	case amount != nil:
		down = models.RoundMoney(*amount)
	case percent != nil:
		down = models.RoundMoney(total.Mul(*percent).Div(hundred))
	default:
		return decimal.Zero, invalid("downpayment plan requires a downpayment percent or amount")
	}

	if !down.IsPositive() {
		return decimal.Zero, invalid("downpayment must be positive")
	}
	if down.GreaterThanOrEqual(total) {
		return decimal.Zero, invalid("downpayment %s must be less than total contract value %s", down.StringFixed(models.MoneyScale), total.StringFixed(models.MoneyScale))
	}
	return down, nil
}

// split divides amount into n shares truncated to the minor unit, with the
// remainder added to the last share.
func split(amount decimal.Decimal, n int) ([]decimal.Decimal, error) {
	share := amount.Div(decimal.NewFromInt(int64(n))).Truncate(models.MoneyScale)
	if !share.IsPositive() {
		return nil, invalid("amount %s is too small to split into %d installments", amount.StringFixed(models.MoneyScale), n)
	}

	shares := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		shares[i] = share
	}
	shares[n-1] = amount.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares, nil
}

// AddMonths moves a calendar date forward by months, clamping the day to the
// end of shorter months (Jan 31 + 1 month = Feb 28 or 29).
func AddMonths(date time.Time, months int) time.Time {
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

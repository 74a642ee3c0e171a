package policy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan policy parameters. Every calculator below derives from these,
// never from duplicated literals.
const (
	// LoanDurationDays is the number of days from borrow to due date.
	LoanDurationDays = 14

	// BanMultiplier scales days late into ban length in days,
	// applied at the moment of return.
	BanMultiplier = 2

	// MaxActiveLoans is the number of concurrent unreturned loans
	// a user may hold.
	MaxActiveLoans = 1

	// ReminderDay is the 1-based day of the loan on which a due-date
	// reminder is sent (one day before due under the 14-day policy).
	ReminderDay = 13

	// ReminderLead is how long before the due date the reminder window
	// opens, derived from ReminderDay.
	ReminderLead = (LoanDurationDays - ReminderDay) * 24 * time.Hour
)

// LateFeePerDay is the fee charged per elapsed day past due,
// linear and uncapped.
var LateFeePerDay = decimal.NewFromInt(5)

// DueDate returns the due date for a loan started at loanDate.
// AddDate keeps the arithmetic correct across month and leap-year
// boundaries (Jan 31 -> Feb 14).
func DueDate(loanDate time.Time) time.Time {
	return loanDate.AddDate(0, 0, LoanDurationDays)
}

// DaysLate returns how many days past due a loan is as of asOf.
// asOf is the current time for active loans and the return date for
// returned ones. Any partial day past due counts as a full day;
// exactly on the due date is not late.
func DaysLate(dueDate, asOf time.Time) int {
	if !asOf.After(dueDate) {
		return 0
	}
	elapsed := asOf.Sub(dueDate)
	days := int(elapsed / (24 * time.Hour))
	if elapsed%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// LateFee returns the fee owed for daysLate days. A waived loan owes
// nothing regardless of how late it was; recomputing a waived loan
// must never restore a nonzero fee.
func LateFee(daysLate int, waived bool) decimal.Decimal {
	if waived || daysLate <= 0 {
		return decimal.Zero
	}
	return LateFeePerDay.Mul(decimal.NewFromInt(int64(daysLate)))
}

// BanUntil returns the end of the ban imposed when a loan is returned
// daysLate days late. It uses the days-late value frozen at the return
// instant, not any earlier provisional figure. The zero time means no
// ban. A new qualifying return replaces an existing ban end rather
// than extending it.
func BanUntil(returnDate time.Time, daysLate int) time.Time {
	if daysLate <= 0 {
		return time.Time{}
	}
	return returnDate.AddDate(0, 0, daysLate*BanMultiplier)
}

// Reason identifies why a borrow attempt was rejected.
type Reason int

const (
	// ReasonNone means the user may borrow.
	ReasonNone Reason = iota
	// ReasonBanned means the user has an active ban.
	ReasonBanned
	// ReasonUnpaidFees means the user owes late fees on a past loan.
	ReasonUnpaidFees
	// ReasonLoanLimit means the user already holds the maximum number
	// of unreturned loans.
	ReasonLoanLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "eligible"
	case ReasonBanned:
		return "banned"
	case ReasonUnpaidFees:
		return "unpaid fees"
	case ReasonLoanLimit:
		return "loan limit reached"
	default:
		return "unknown"
	}
}

// LoanState is the subset of a loan the eligibility guard needs.
type LoanState struct {
	Returned bool
	Fee      decimal.Decimal
	FeePaid  bool
	Waived   bool
}

// Decision is the outcome of an eligibility check. BanUntil is set
// only when Reason is ReasonBanned.
type Decision struct {
	Reason   Reason
	BanUntil time.Time
}

// Eligible reports whether the decision permits a new loan.
func (d Decision) Eligible() bool {
	return d.Reason == ReasonNone
}

// CheckEligibility decides whether a user may start a new loan.
// Checks run in a fixed order and the first failure wins: an active
// ban, then unpaid late fees on any loan, then the concurrent-loan
// limit. The decision is deterministic for fixed inputs; the caller
// has already authenticated the user.
func CheckEligibility(banUntil *time.Time, loans []LoanState, now time.Time) Decision {
	if banUntil != nil && banUntil.After(now) {
		return Decision{Reason: ReasonBanned, BanUntil: *banUntil}
	}

	active := 0
	for _, l := range loans {
		if !l.Waived && !l.FeePaid && l.Fee.IsPositive() {
			return Decision{Reason: ReasonUnpaidFees}
		}
		if !l.Returned {
			active++
		}
	}

	if active >= MaxActiveLoans {
		return Decision{Reason: ReasonLoanLimit}
	}

	return Decision{Reason: ReasonNone}
}

package domain

import (
	"time"
)

const (
	// LoanPeriodDays is the lending period applied to every checkout.
	LoanPeriodDays = 14
	// DailyPenaltyRate is charged for each whole day a book is returned late.
	DailyPenaltyRate = 1.0

	// DateLayout is the calendar-date form used for loan dates on disk and on the wire.
	DateLayout = "2006-01-02"
)

// LoanStatus is derived from a loan's dates, never stored.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusOverdue  LoanStatus = "overdue"
	LoanStatusReturned LoanStatus = "returned"
)

// ParseLoanStatus accepts the lower-case status names.
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch st := LoanStatus(s); st {
	case LoanStatusActive, LoanStatusOverdue, LoanStatusReturned:
		return st, nil
	default:
		return "", invalid("status", "unknown loan status "+s)
	}
}

// Loan records one copy of a book lent to one member.
type Loan struct {
	ID         string     `json:"id" db:"id"`
	BookID     string     `json:"book_id" db:"book_id"`
	UserID     string     `json:"user_id" db:"user_id"`
	LoanDate   time.Time  `json:"loan_date" db:"loan_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Penalty    float64    `json:"penalty" db:"penalty"`
}

// NewLoan opens a loan of book to user dated today. The book must have a copy on the shelf
// and the user must be a member.
func NewLoan(id string, book *Book, user *User, today time.Time) (*Loan, error) {
	if !book.IsAvailable() {
		return nil, &ConflictError{Reason: "book not available"}
	}
	if user.Role != RoleMember {
		return nil, invalid("user_id", "only members can borrow books")
	}
	loanDate := DateOf(today)
	return &Loan{
		ID:       id,
		BookID:   book.ID,
		UserID:   user.ID,
		LoanDate: loanDate,
		DueDate:  loanDate.AddDate(0, 0, LoanPeriodDays),
	}, nil
}

// Clone returns a copy that shares no memory with l.
func (l Loan) Clone() Loan {
	if l.ReturnDate != nil {
		returned := *l.ReturnDate
		l.ReturnDate = &returned
	}
	return l
}

// IsReturned reports whether the loan reached its terminal state.
func (l *Loan) IsReturned() bool {
	return l.ReturnDate != nil
}

// IsOverdue reports whether an open loan is past its due date on the given day.
func (l *Loan) IsOverdue(today time.Time) bool {
	return !l.IsReturned() && l.DueDate.Before(DateOf(today))
}

// Status classifies the loan as returned, overdue or active on the given day.
func (l *Loan) Status(today time.Time) LoanStatus {
	switch {
	case l.IsReturned():
		return LoanStatusReturned
	case l.IsOverdue(today):
		return LoanStatusOverdue
	default:
		return LoanStatusActive
	}
}

// Return closes the loan on the given day and fixes its penalty. A closed loan is never
// touched again.
func (l *Loan) Return(today time.Time) error {
	if l.IsReturned() {
		return &ConflictError{Reason: "already returned"}
	}
	returned := DateOf(today)
	l.ReturnDate = &returned
	l.Penalty = Penalty(l.DueDate, returned)
	return nil
}

// Penalty is the late fee for returning on returned a loan due on due.
func Penalty(due, returned time.Time) float64 {
	if !returned.After(due) {
		return 0
	}
	days := int(returned.Sub(due) / (24 * time.Hour))
	return float64(days) * DailyPenaltyRate
}

// DateOf truncates t to its calendar date, expressed at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, invalid("date", "invalid date "+s)
	}
	return t, nil
}

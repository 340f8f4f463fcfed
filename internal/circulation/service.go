package circulation

import (
	"context"

	"libcirc/internal/domain"
)

// Service defines the interface for the circulation engine.
type Service interface {
	CreateLoan(ctx context.Context, bookID, userID string) (*domain.Loan, error)
	ReturnLoan(ctx context.Context, loanID string) (*domain.Loan, error)

	GetLoan(ctx context.Context, id string) (*domain.Loan, error)
	ListLoans(ctx context.Context) ([]domain.Loan, error)
	ActiveLoans(ctx context.Context) ([]domain.Loan, error)
	OverdueLoans(ctx context.Context) ([]domain.Loan, error)
	LoansByStatus(ctx context.Context, status domain.LoanStatus) ([]domain.Loan, error)
	LoansForUser(ctx context.Context, userID string) ([]domain.Loan, error)
	TotalPenalties(ctx context.Context, userID string) (float64, error)

	// StatusOf derives the status of loan against the engine's clock.
	StatusOf(loan domain.Loan) domain.LoanStatus

	GuardBookRemoval(ctx context.Context, bookID string, remove func() error) error
	GuardUserRemoval(ctx context.Context, userID string, remove func() error) error
}

// Store persists the loan collection.
type Store interface {
	LoadLoans(ctx context.Context) ([]domain.Loan, error)
	SaveLoans(ctx context.Context, loans []domain.Loan) error
}

// Catalog is the part of the inventory ledger the engine drives.
type Catalog interface {
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	AdjustQuantity(ctx context.Context, id string, delta int) (*domain.Book, error)
}

// Members is the part of the membership registry the engine drives.
type Members interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	RecordLoan(ctx context.Context, userID, loanID string) error
}

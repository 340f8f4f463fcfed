package membership

import (
	"context"

	"libcirc/internal/domain"
)

// Service defines the interface for the membership registry.
type Service interface {
	AddUser(ctx context.Context, username, password, fullName, nationalID, phone, address string, role domain.Role) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
	DeleteUser(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// Authenticate returns the staff account matching the credentials, or
	// domain.ErrInvalidCredentials.
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (Session, error)
	EnsureDefaultAdmin(ctx context.Context) (*domain.User, error)

	// RecordLoan appends loanID to the user's borrowing history. The history is kept in
	// memory only and rebuilt from the loan set on startup.
	RecordLoan(ctx context.Context, userID, loanID string) error
	UseLoanGuard(guard LoanGuard)
}

// Store persists the user collection.
type Store interface {
	LoadUsers(ctx context.Context) ([]domain.User, error)
	SaveUsers(ctx context.Context, users []domain.User) error
}

// LoanGuard decides whether a user may be removed. It runs remove itself when no loan
// references the user, so no loan can be opened in between.
type LoanGuard interface {
	GuardUserRemoval(ctx context.Context, userID string, remove func() error) error
}

package catalog

import (
	"context"

	"libcirc/internal/domain"
)

// Service defines the interface for the inventory ledger.
type Service interface {
	AddBook(ctx context.Context, title, author string, year int, genre string, quantity int) (*domain.Book, error)
	UpdateBook(ctx context.Context, book domain.Book) error
	DeleteBook(ctx context.Context, id string) error
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	ListAvailable(ctx context.Context) ([]domain.Book, error)
	Search(ctx context.Context, query string) ([]domain.Book, error)
	AdjustQuantity(ctx context.Context, id string, delta int) (*domain.Book, error)
	UseLoanGuard(guard LoanGuard)
}

// Store persists the whole book collection.
type Store interface {
	LoadBooks(ctx context.Context) ([]domain.Book, error)
	SaveBooks(ctx context.Context, books []domain.Book) error
}

// LoanGuard lets the owner of the loans veto removing a book that loans refer to.
// remove must run while the guard holds its own lock.
type LoanGuard interface {
	GuardBookRemoval(ctx context.Context, bookID string, remove func() error) error
}

package circulation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libcirc/internal/domain"
)

// service implements the Service interface.
type service struct {
	store   Store
	books   Catalog
	users   Members
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
	opened  metric.Int64Counter
	closed  metric.Int64Counter
	charged metric.Float64Counter

	// mu serialises every loan mutation together with the ledger calls it makes. It is
	// always taken before the ledger's and the registry's own locks.
	mu    sync.RWMutex
	loans map[string]domain.Loan
}

// Option customises the engine built by NewService.
type Option func(*service)

// WithClock replaces the wall clock used to date loans and derive their status.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService loads the loan collection and returns the engine owning it. Loans naming a
// book or user that no longer exists are skipped.
func NewService(ctx context.Context, store Store, books Catalog, users Members, logger *slog.Logger, opts ...Option) (Service, error) {
	s := &service{
		store:  store,
		books:  books,
		users:  users,
		logger: logger,
		tracer: otel.Tracer("libcirc/circulation"),
		now:    time.Now,
		loans:  make(map[string]domain.Loan),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}

	loans, err := store.LoadLoans(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(loans, byLoanDate)
	for _, l := range loans {
		if _, dup := s.loans[l.ID]; dup {
			logger.Warn("skipping duplicate loan id", "loan_id", l.ID)
			continue
		}
		if _, err := books.GetBook(ctx, l.BookID); err != nil {
			logger.Warn("skipping loan of unknown book", "loan_id", l.ID, "book_id", l.BookID)
			continue
		}
		if err := users.RecordLoan(ctx, l.UserID, l.ID); err != nil {
			logger.Warn("skipping loan of unknown user", "loan_id", l.ID, "user_id", l.UserID)
			continue
		}
		s.loans[l.ID] = l.Clone()
	}
	logger.Info("loans loaded", "count", len(s.loans))
	return s, nil
}

func (s *service) initMetrics() error {
	meter := otel.Meter("libcirc/circulation")

	var err error
	if s.opened, err = meter.Int64Counter("library.loans.opened",
		metric.WithDescription("Loans opened by checkout"),
	); err != nil {
		return fmt.Errorf("failed to create loans.opened counter: %w", err)
	}
	if s.closed, err = meter.Int64Counter("library.loans.closed",
		metric.WithDescription("Loans closed by return"),
	); err != nil {
		return fmt.Errorf("failed to create loans.closed counter: %w", err)
	}
	if s.charged, err = meter.Float64Counter("library.penalties.charged",
		metric.WithDescription("Late fees charged on return"),
	); err != nil {
		return fmt.Errorf("failed to create penalties.charged counter: %w", err)
	}
	return nil
}

// CreateLoan checks out one copy of a book to a member.
func (s *service) CreateLoan(ctx context.Context, bookID, userID string) (*domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_loan",
		trace.WithAttributes(
			attribute.String("book.id", bookID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Step 1: Resolve the book and the borrower
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	loan, err := domain.NewLoan(uuid.NewString(), book, user, s.now())
	if err != nil {
		return nil, err
	}

	// Step 2: Take the copy off the shelf
	if _, err := s.books.AdjustQuantity(ctx, bookID, -1); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, &domain.ConflictError{Reason: "book not available"}
		}
		return nil, err
	}

	// Step 3: Record the loan, putting the copy back if that fails
	next := maps.Clone(s.loans)
	next[loan.ID] = loan.Clone()
	if err := s.commit(ctx, next); err != nil {
		span.RecordError(err)
		s.compensate(ctx, bookID, +1, err)
		return nil, err
	}

	if err := s.users.RecordLoan(ctx, userID, loan.ID); err != nil {
		s.logger.Warn("failed to record loan on user", "loan_id", loan.ID, "user_id", userID, "error", err)
	}
	s.opened.Add(ctx, 1)
	span.SetAttributes(attribute.String("loan.id", loan.ID))

	s.logger.Info("loan opened", "loan_id", loan.ID, "book_id", bookID, "user_id", userID,
		"due_date", loan.DueDate.Format(domain.DateLayout))
	out := *loan
	return &out, nil
}

// ReturnLoan closes an open loan, charging a penalty when it comes back late.
func (s *service) ReturnLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_loan",
		trace.WithAttributes(attribute.String("loan.id", loanID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[loanID]
	if !ok {
		return nil, notFound(loanID)
	}
	if err := loan.Return(s.now()); err != nil {
		return nil, err
	}

	if _, err := s.books.AdjustQuantity(ctx, loan.BookID, +1); err != nil {
		return nil, err
	}

	next := maps.Clone(s.loans)
	next[loanID] = loan
	if err := s.commit(ctx, next); err != nil {
		span.RecordError(err)
		s.compensate(ctx, loan.BookID, -1, err)
		return nil, err
	}

	s.closed.Add(ctx, 1)
	if loan.Penalty > 0 {
		s.charged.Add(ctx, loan.Penalty)
	}
	span.SetAttributes(attribute.Float64("loan.penalty", loan.Penalty))

	s.logger.Info("loan returned", "loan_id", loanID, "book_id", loan.BookID, "penalty", loan.Penalty)
	out := loan.Clone()
	return &out, nil
}

// compensate reverses a quantity change whose loan could not be persisted.
func (s *service) compensate(ctx context.Context, bookID string, delta int, cause error) {
	s.logger.Warn("compensating quantity change", "book_id", bookID, "delta", delta, "cause", cause)
	if _, err := s.books.AdjustQuantity(context.WithoutCancel(ctx), bookID, delta); err != nil {
		s.logger.Error("failed to compensate quantity change", "book_id", bookID, "delta", delta, "error", err)
	}
}

func (s *service) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, notFound(id)
	}
	out := l.Clone()
	return &out, nil
}

// ListLoans returns every loan, oldest first.
func (s *service) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	return s.filter(func(domain.Loan) bool { return true }), nil
}

// ActiveLoans returns the loans not yet returned, overdue ones included.
func (s *service) ActiveLoans(ctx context.Context) ([]domain.Loan, error) {
	return s.filter(func(l domain.Loan) bool { return !l.IsReturned() }), nil
}

func (s *service) OverdueLoans(ctx context.Context) ([]domain.Loan, error) {
	today := s.now()
	return s.filter(func(l domain.Loan) bool { return l.IsOverdue(today) }), nil
}

// LoansByStatus returns the loans whose derived status is status.
func (s *service) LoansByStatus(ctx context.Context, status domain.LoanStatus) ([]domain.Loan, error) {
	if _, err := domain.ParseLoanStatus(string(status)); err != nil {
		return nil, err
	}
	today := s.now()
	return s.filter(func(l domain.Loan) bool { return l.Status(today) == status }), nil
}

func (s *service) StatusOf(loan domain.Loan) domain.LoanStatus {
	return loan.Status(s.now())
}

// LoansForUser returns the borrowing history of a user, oldest first.
func (s *service) LoansForUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.filter(func(l domain.Loan) bool { return l.UserID == userID }), nil
}

// TotalPenalties sums the penalties charged on a user's returned loans.
func (s *service) TotalPenalties(ctx context.Context, userID string) (float64, error) {
	loans, err := s.LoansForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, l := range loans {
		total += l.Penalty
	}
	return total, nil
}

// GuardBookRemoval runs remove unless a loan, open or returned, references the book.
// Loans are never deleted, so a book with loan history stays.
func (s *service) GuardBookRemoval(ctx context.Context, bookID string, remove func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.referenced("book", func(l domain.Loan) bool { return l.BookID == bookID }); err != nil {
		return err
	}
	return remove()
}

// GuardUserRemoval runs remove unless the user has borrowed anything.
func (s *service) GuardUserRemoval(ctx context.Context, userID string, remove func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.referenced("user", func(l domain.Loan) bool { return l.UserID == userID }); err != nil {
		return err
	}
	return remove()
}

// referenced reports a conflict when any loan matches. Callers hold s.mu.
func (s *service) referenced(resource string, match func(domain.Loan) bool) error {
	history := false
	for _, l := range s.loans {
		if !match(l) {
			continue
		}
		if !l.IsReturned() {
			return &domain.ConflictError{Reason: resource + " has active loans"}
		}
		history = true
	}
	if history {
		return &domain.ConflictError{Reason: resource + " has loan history"}
	}
	return nil
}

// commit persists next and only then makes it the current collection. Callers hold s.mu.
func (s *service) commit(ctx context.Context, next map[string]domain.Loan) error {
	if err := s.store.SaveLoans(ctx, slices.Collect(maps.Values(next))); err != nil {
		return err
	}
	s.loans = next
	return nil
}

func (s *service) filter(keep func(domain.Loan) bool) []domain.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]domain.Loan, 0)
	for _, l := range s.loans {
		if keep(l) {
			loans = append(loans, l.Clone())
		}
	}
	slices.SortFunc(loans, byLoanDate)
	return loans
}

func byLoanDate(a, b domain.Loan) int {
	if c := a.LoanDate.Compare(b.LoanDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func notFound(id string) error {
	return &domain.NotFoundError{Resource: "loan", ID: id}
}

package catalog

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libcirc/internal/domain"
)

// service implements the Service interface.
type service struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	books map[string]domain.Book
	guard LoanGuard
}

// NewService loads the book collection and returns the ledger owning it.
func NewService(ctx context.Context, store Store, logger *slog.Logger) (Service, error) {
	s := &service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("libcirc/catalog"),
		books:  make(map[string]domain.Book),
	}

	books, err := store.LoadBooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if _, dup := s.books[b.ID]; dup {
			logger.Warn("skipping duplicate book id", "book_id", b.ID)
			continue
		}
		s.books[b.ID] = b
	}
	logger.Info("books loaded", "count", len(s.books))
	return s, nil
}

// UseLoanGuard installs the check consulted before a book is deleted.
func (s *service) UseLoanGuard(guard LoanGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
}

// AddBook validates and stores a new book under a fresh id.
func (s *service) AddBook(ctx context.Context, title, author string, year int, genre string, quantity int) (*domain.Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book")
	defer span.End()

	book, err := domain.NewBook(uuid.NewString(), title, author, year, genre, quantity)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.books)
	next[book.ID] = *book
	if err := s.commit(ctx, next); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("book.id", book.ID))
	out := *book
	return &out, nil
}

// UpdateBook replaces the descriptive fields of the stored record with those of book after
// re-validating it. The stored copy count is kept: copies only move through AdjustQuantity,
// so an update built from a stale read cannot undo a checkout.
func (s *service) UpdateBook(ctx context.Context, book domain.Book) error {
	ctx, span := s.tracer.Start(ctx, "catalog.update_book",
		trace.WithAttributes(attribute.String("book.id", book.ID)),
	)
	defer span.End()

	if err := book.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.books[book.ID]
	if !ok {
		return notFound(book.ID)
	}
	book.Quantity = current.Quantity

	next := maps.Clone(s.books)
	next[book.ID] = book
	if err := s.commit(ctx, next); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// DeleteBook removes a book. The installed LoanGuard refuses while any loan references it.
func (s *service) DeleteBook(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_book",
		trace.WithAttributes(attribute.String("book.id", id)),
	)
	defer span.End()

	remove := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.books[id]; !ok {
			return notFound(id)
		}
		next := maps.Clone(s.books)
		delete(next, id)
		return s.commit(ctx, next)
	}

	s.mu.RLock()
	guard := s.guard
	s.mu.RUnlock()

	if guard == nil {
		return remove()
	}
	return guard.GuardBookRemoval(ctx, id, remove)
}

func (s *service) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return nil, notFound(id)
	}
	return &b, nil
}

// ListBooks returns every book ordered by title.
func (s *service) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.filter(func(domain.Book) bool { return true }), nil
}

// ListAvailable returns the books with at least one copy on the shelf.
func (s *service) ListAvailable(ctx context.Context) ([]domain.Book, error) {
	return s.filter(func(b domain.Book) bool { return b.IsAvailable() }), nil
}

// Search matches query case-insensitively against title, author and genre.
// An empty query returns every book.
func (s *service) Search(ctx context.Context, query string) ([]domain.Book, error) {
	_, span := s.tracer.Start(ctx, "catalog.search",
		trace.WithAttributes(attribute.String("query", query)),
	)
	defer span.End()

	books := s.filter(func(b domain.Book) bool { return b.Matches(query) })
	span.SetAttributes(attribute.Int("results", len(books)))
	return books, nil
}

// AdjustQuantity moves the copy count by delta and returns the updated book.
func (s *service) AdjustQuantity(ctx context.Context, id string, delta int) (*domain.Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.adjust_quantity",
		trace.WithAttributes(
			attribute.String("book.id", id),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return nil, notFound(id)
	}
	if err := b.SetQuantity(b.Quantity + delta); err != nil {
		return nil, err
	}

	next := maps.Clone(s.books)
	next[id] = b
	if err := s.commit(ctx, next); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &b, nil
}

// commit persists next and only then makes it the current collection. Callers hold s.mu.
func (s *service) commit(ctx context.Context, next map[string]domain.Book) error {
	if err := s.store.SaveBooks(ctx, slices.Collect(maps.Values(next))); err != nil {
		return err
	}
	s.books = next
	return nil
}

func (s *service) filter(keep func(domain.Book) bool) []domain.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]domain.Book, 0, len(s.books))
	for _, b := range s.books {
		if keep(b) {
			books = append(books, b)
		}
	}
	slices.SortFunc(books, func(a, b domain.Book) int {
		if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return books
}

func notFound(id string) error {
	return &domain.NotFoundError{Resource: "book", ID: id}
}

package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libcirc/internal/domain"
)

// File names inside the data directory.
const (
	BooksFile = "books.csv"
	UsersFile = "users.csv"
	LoansFile = "loans.csv"
)

// FileStore keeps each collection in its own comma-separated file with a header row.
// Every save rewrites the whole file through a temporary file and a rename, so readers see
// either the old or the new collection.
type FileStore struct {
	dir    string
	logger *slog.Logger
	tracer trace.Tracer
	mu     sync.Mutex
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StorageError{Op: "create data directory", Path: dir, Err: err}
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer("libcirc/storage"),
	}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) LoadBooks(ctx context.Context) ([]domain.Book, error) {
	return load(ctx, s, BooksFile, BookHeader, decodeBook)
}

func (s *FileStore) SaveBooks(ctx context.Context, books []domain.Book) error {
	return save(ctx, s, BooksFile, BookHeader, books, func(b domain.Book) string { return b.ID }, encodeBook)
}

func (s *FileStore) LoadUsers(ctx context.Context) ([]domain.User, error) {
	return load(ctx, s, UsersFile, UserHeader, decodeUser)
}

func (s *FileStore) SaveUsers(ctx context.Context, users []domain.User) error {
	return save(ctx, s, UsersFile, UserHeader, users, func(u domain.User) string { return u.ID }, encodeUser)
}

func (s *FileStore) LoadLoans(ctx context.Context) ([]domain.Loan, error) {
	return load(ctx, s, LoansFile, LoanHeader, decodeLoan)
}

func (s *FileStore) SaveLoans(ctx context.Context, loans []domain.Loan) error {
	return save(ctx, s, LoansFile, LoanHeader, loans, func(l domain.Loan) string { return l.ID }, encodeLoan)
}

func load[T any](ctx context.Context, s *FileStore, name string, header []string, decode func([]string) (T, error)) ([]T, error) {
	path := filepath.Join(s.dir, name)
	_, span := s.tracer.Start(ctx, "storage.csv.load",
		trace.WithAttributes(attribute.String("file", path)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, &domain.StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		items   []T
		skipped int
		first   = true
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.logger.Warn("skipping malformed row", "file", name, "line", perr.Line, "error", err)
				skipped++
				continue
			}
			span.RecordError(err)
			return nil, &domain.StorageError{Op: "read", Path: path, Err: err}
		}
		line, _ := r.FieldPos(0)

		if first {
			first = false
			if !slices.Equal(rec, header) {
				s.logger.Warn("unexpected header", "file", name, "got", strings.Join(rec, ","), "want", strings.Join(header, ","))
			}
			continue
		}
		if len(rec) != len(header) {
			s.logger.Warn("skipping malformed row", "file", name, "line", line, "fields", len(rec), "want", len(header))
			skipped++
			continue
		}
		item, err := decode(rec)
		if err != nil {
			s.logger.Warn("skipping malformed row", "file", name, "line", line, "error", err)
			skipped++
			continue
		}
		items = append(items, item)
	}

	span.SetAttributes(
		attribute.Int("rows.loaded", len(items)),
		attribute.Int("rows.skipped", skipped),
	)
	return items, nil
}

func save[T any](ctx context.Context, s *FileStore, name string, header []string, items []T, id func(T) string, encode func(T) []string) error {
	path := filepath.Join(s.dir, name)
	_, span := s.tracer.Start(ctx, "storage.csv.save",
		trace.WithAttributes(
			attribute.String("file", path),
			attribute.Int("rows", len(items)),
		),
	)
	defer span.End()

	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b T) int { return strings.Compare(id(a), id(b)) })

	records := make([][]string, 0, len(sorted)+1)
	records = append(records, header)
	for _, item := range sorted {
		records = append(records, encode(item))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.dir, name, records); err != nil {
		span.RecordError(err)
		return &domain.StorageError{Op: "save", Path: path, Err: err}
	}
	return nil
}

func writeFileAtomic(dir, name string, records [][]string) (err error) {
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.WriteAll(records); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libcirc/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	author           TEXT NOT NULL,
	publication_year INT  NOT NULL,
	genre            TEXT NOT NULL DEFAULT '',
	quantity         INT  NOT NULL CHECK (quantity >= 0)
);

CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL,
	password    TEXT NOT NULL DEFAULT '',
	full_name   TEXT NOT NULL,
	national_id TEXT NOT NULL,
	phone       TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS loans (
	id          TEXT PRIMARY KEY,
	book_id     TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	loan_date   DATE NOT NULL,
	due_date    DATE NOT NULL,
	return_date DATE,
	penalty     NUMERIC(10, 2) NOT NULL DEFAULT 0
);
`

// Postgres stores the collections in three tables. A save replaces the table contents inside
// one serializable transaction, matching the whole-collection semantics of FileStore.
type Postgres struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, &domain.StorageError{Op: "connect postgres", Err: err}
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{
		db:     db,
		tracer: otel.Tracer("libcirc/storage"),
	}
}

// Migrate creates the tables if they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "storage.postgres.migrate")
	defer span.End()

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return p.fail(span, "migrate", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) LoadBooks(ctx context.Context) ([]domain.Book, error) {
	ctx, span := p.tracer.Start(ctx, "storage.postgres.load",
		trace.WithAttributes(attribute.String("table", "books")),
	)
	defer span.End()

	var books []domain.Book
	err := p.db.SelectContext(ctx, &books, `
		SELECT id, title, author, publication_year, genre, quantity
		FROM books
		ORDER BY id
	`)
	if err != nil {
		return nil, p.fail(span, "load books", err)
	}
	span.SetAttributes(attribute.Int("rows.loaded", len(books)))
	return books, nil
}

func (p *Postgres) SaveBooks(ctx context.Context, books []domain.Book) error {
	return p.replace(ctx, "books", len(books), func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO books (id, title, author, publication_year, genre, quantity)
			VALUES (:id, :title, :author, :publication_year, :genre, :quantity)
		`, books)
		return err
	})
}

func (p *Postgres) LoadUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := p.tracer.Start(ctx, "storage.postgres.load",
		trace.WithAttributes(attribute.String("table", "users")),
	)
	defer span.End()

	var users []domain.User
	err := p.db.SelectContext(ctx, &users, `
		SELECT id, username, password, full_name, national_id, phone, address, role
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, p.fail(span, "load users", err)
	}
	span.SetAttributes(attribute.Int("rows.loaded", len(users)))
	return users, nil
}

func (p *Postgres) SaveUsers(ctx context.Context, users []domain.User) error {
	return p.replace(ctx, "users", len(users), func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO users (id, username, password, full_name, national_id, phone, address, role)
			VALUES (:id, :username, :password, :full_name, :national_id, :phone, :address, :role)
		`, users)
		return err
	})
}

type loanRow struct {
	ID         string     `db:"id"`
	BookID     string     `db:"book_id"`
	UserID     string     `db:"user_id"`
	LoanDate   time.Time  `db:"loan_date"`
	DueDate    time.Time  `db:"due_date"`
	ReturnDate *time.Time `db:"return_date"`
	Penalty    float64    `db:"penalty"`
}

func (p *Postgres) LoadLoans(ctx context.Context) ([]domain.Loan, error) {
	ctx, span := p.tracer.Start(ctx, "storage.postgres.load",
		trace.WithAttributes(attribute.String("table", "loans")),
	)
	defer span.End()

	var rows []loanRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, book_id, user_id, loan_date, due_date, return_date, penalty::float8 AS penalty
		FROM loans
		ORDER BY id
	`)
	if err != nil {
		return nil, p.fail(span, "load loans", err)
	}

	loans := make([]domain.Loan, len(rows))
	for i, r := range rows {
		loans[i] = domain.Loan{
			ID:       r.ID,
			BookID:   r.BookID,
			UserID:   r.UserID,
			LoanDate: domain.DateOf(r.LoanDate),
			DueDate:  domain.DateOf(r.DueDate),
			Penalty:  r.Penalty,
		}
		if r.ReturnDate != nil {
			returned := domain.DateOf(*r.ReturnDate)
			loans[i].ReturnDate = &returned
		}
	}
	span.SetAttributes(attribute.Int("rows.loaded", len(loans)))
	return loans, nil
}

func (p *Postgres) SaveLoans(ctx context.Context, loans []domain.Loan) error {
	rows := make([]loanRow, len(loans))
	for i, l := range loans {
		rows[i] = loanRow(l)
	}
	return p.replace(ctx, "loans", len(loans), func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO loans (id, book_id, user_id, loan_date, due_date, return_date, penalty)
			VALUES (:id, :book_id, :user_id, :loan_date, :due_date, :return_date, :penalty)
		`, rows)
		return err
	})
}

// replace empties table and refills it through insert, all in one transaction.
func (p *Postgres) replace(ctx context.Context, table string, count int, insert func(context.Context, *sqlx.Tx) error) error {
	ctx, span := p.tracer.Start(ctx, "storage.postgres.save",
		trace.WithAttributes(
			attribute.String("table", table),
			attribute.Int("rows", count),
		),
	)
	defer span.End()

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return p.fail(span, "begin transaction", err)
	}
	defer tx.Rollback()

	// table is one of the three constants above, never user input.
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return p.fail(span, "clear "+table, err)
	}
	if count > 0 {
		if err := insert(ctx, tx); err != nil {
			return p.fail(span, "insert "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return p.fail(span, "commit transaction", err)
	}
	return nil
}

func (p *Postgres) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		span.SetAttributes(attribute.String("pq.code", string(pqErr.Code)))
		err = fmt.Errorf("%s: %w", pqErr.Code.Name(), err)
	}
	return &domain.StorageError{Op: op, Err: err}
}

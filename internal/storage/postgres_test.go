package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libcirc/internal/domain"
)

// setupTestDB connects to the database described by the PG* variables and skips the test
// when none is reachable.
func setupTestDB(t *testing.T) *Postgres {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)

	db, err := sqlx.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}

	store := NewPostgres(db)
	require.NoError(t, store.Migrate(context.Background()))
	_, err = db.Exec("TRUNCATE TABLE books, users, loans")
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })
	return store
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	books := []domain.Book{
		{ID: "b1", Title: "Emma", Author: "Jane Austen", PublicationYear: 1815, Genre: "novel", Quantity: 2},
		{ID: "b2", Title: "War, and Peace", Author: "Leo Tolstoy", PublicationYear: 1869, Quantity: 0},
	}
	users := []domain.User{
		{ID: "u1", Username: "jdoe", FullName: "John Doe", NationalID: "AB1", Role: domain.RoleMember},
		{ID: "u2", Username: "admin", Password: "admin123", FullName: "Administrator", NationalID: "ADMIN1", Role: domain.RoleAdmin},
	}
	returned := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	loans := []domain.Loan{
		{ID: "l1", BookID: "b1", UserID: "u1", LoanDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), ReturnDate: &returned, Penalty: 5},
		{ID: "l2", BookID: "b1", UserID: "u1", LoanDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
	}

	require.NoError(t, store.SaveBooks(ctx, books))
	require.NoError(t, store.SaveUsers(ctx, users))
	require.NoError(t, store.SaveLoans(ctx, loans))

	gotBooks, err := store.LoadBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, books, gotBooks)

	gotUsers, err := store.LoadUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, users, gotUsers)

	gotLoans, err := store.LoadLoans(ctx)
	require.NoError(t, err)
	assert.Equal(t, loans, gotLoans)

	// a save replaces the whole collection
	require.NoError(t, store.SaveBooks(ctx, books[:1]))
	gotBooks, err = store.LoadBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, gotBooks, 1)
}

func TestPostgresDuplicateIDIsStorageError(t *testing.T) {
	store := setupTestDB(t)

	dup := domain.Book{ID: "b1", Title: "Emma", Author: "Jane Austen", PublicationYear: 1815, Quantity: 1}
	err := store.SaveBooks(context.Background(), []domain.Book{dup, dup})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "unique_violation")
}

package circulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"

	"libcirc/internal/catalog"
	"libcirc/internal/domain"
	"libcirc/internal/membership"
	"libcirc/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t *testing.T, date string) {
	t.Helper()
	d, err := domain.ParseDate(date)
	require.NoError(t, err)
	c.mu.Lock()
	c.now = d.Add(10 * time.Hour)
	c.mu.Unlock()
}

// flakyStore fails loan saves while failing is set.
type flakyStore struct {
	*storage.Memory
	mu      sync.Mutex
	failing bool
}

func (f *flakyStore) SaveLoans(ctx context.Context, loans []domain.Loan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return &domain.StorageError{Op: "save", Err: errors.New("disk full")}
	}
	return f.Memory.SaveLoans(ctx, loans)
}

func (f *flakyStore) fail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

type library struct {
	store   *flakyStore
	books   catalog.Service
	users   membership.Service
	loans   Service
	clock   *clock
	member  *domain.User
	another *domain.User
	staff   *domain.User
}

func newLibrary(t *testing.T) *library {
	t.Helper()
	return openLibrary(t, &flakyStore{Memory: storage.NewMemory()})
}

func openLibrary(t *testing.T, store *flakyStore) *library {
	t.Helper()
	ctx := context.Background()

	lib := &library{store: store, clock: &clock{}}
	lib.clock.Set(t, "2024-01-01")

	var err error
	lib.books, err = catalog.NewService(ctx, store, discard)
	require.NoError(t, err)
	lib.users, err = membership.NewService(ctx, store, discard)
	require.NoError(t, err)
	lib.loans, err = NewService(ctx, store, lib.books, lib.users, discard, WithClock(lib.clock.Now))
	require.NoError(t, err)

	lib.books.UseLoanGuard(lib.loans)
	lib.users.UseLoanGuard(lib.loans)
	return lib
}

func (lib *library) seedUsers(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	var err error
	lib.member, err = lib.users.AddUser(ctx, "bob", "", "Bob Smith", "B1", "", "", domain.RoleMember)
	require.NoError(t, err)
	lib.another, err = lib.users.AddUser(ctx, "eve", "", "Eve Adams", "E1", "", "", domain.RoleMember)
	require.NoError(t, err)
	lib.staff, err = lib.users.AddUser(ctx, "ann", "secret", "Ann Lee", "A1", "", "", domain.RoleLibrarian)
	require.NoError(t, err)
}

func (lib *library) addBook(t *testing.T, title string, quantity int) *domain.Book {
	t.Helper()
	b, err := lib.books.AddBook(context.Background(), title, "Some Author", 2000, "fiction", quantity)
	require.NoError(t, err)
	return b
}

func (lib *library) quantity(t *testing.T, id string) int {
	t.Helper()
	b, err := lib.books.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b.Quantity
}

func TestCreateLoan(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 2)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01", loan.LoanDate.Format(domain.DateLayout))
	assert.Equal(t, "2024-01-15", loan.DueDate.Format(domain.DateLayout))
	assert.Nil(t, loan.ReturnDate)
	assert.Zero(t, loan.Penalty)
	assert.Equal(t, 1, lib.quantity(t, book.ID))

	user, err := lib.users.GetUser(ctx, lib.member.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{loan.ID}, user.Loans)

	got, err := lib.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, *loan, *got)
}

func TestCreateLoanRejections(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	empty := lib.addBook(t, "Dune", 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		bookID  string
		userID  string
		wantErr error
	}{
		{"unknown book", "missing", lib.member.ID, domain.ErrNotFound},
		{"unknown user", book.ID, "missing", domain.ErrNotFound},
		{"no copies", empty.ID, lib.member.ID, domain.ErrConflict},
		{"staff borrower", book.ID, lib.staff.ID, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lib.loans.CreateLoan(ctx, tt.bookID, tt.userID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 1, lib.quantity(t, book.ID))
	loans, err := lib.loans.ListLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestSecondCheckoutOfLastCopyConflicts(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	_, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	_, err = lib.loans.CreateLoan(ctx, book.ID, lib.another.ID)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "book not available", conflict.Reason)
	assert.Equal(t, 0, lib.quantity(t, book.ID))
}

func TestReturnLoanPenalty(t *testing.T) {
	tests := []struct {
		returned string
		penalty  float64
	}{
		{"2024-01-10", 0},
		{"2024-01-15", 0},
		{"2024-01-16", 1},
		{"2024-01-20", 5},
	}

	for _, tt := range tests {
		t.Run(tt.returned, func(t *testing.T) {
			lib := newLibrary(t)
			lib.seedUsers(t)
			book := lib.addBook(t, "Emma", 1)
			ctx := context.Background()

			loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
			require.NoError(t, err)

			lib.clock.Set(t, tt.returned)
			returned, err := lib.loans.ReturnLoan(ctx, loan.ID)
			require.NoError(t, err)

			require.NotNil(t, returned.ReturnDate)
			assert.Equal(t, tt.returned, returned.ReturnDate.Format(domain.DateLayout))
			assert.Equal(t, tt.penalty, returned.Penalty)
			assert.Equal(t, 1, lib.quantity(t, book.ID))

			total, err := lib.loans.TotalPenalties(ctx, lib.member.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.penalty, total)
		})
	}
}

func TestReturnLoanTwiceConflicts(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	lib.clock.Set(t, "2024-01-20")
	first, err := lib.loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	lib.clock.Set(t, "2024-02-20")
	_, err = lib.loans.ReturnLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := lib.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Penalty, got.Penalty)
	assert.Equal(t, *first.ReturnDate, *got.ReturnDate)
	assert.Equal(t, 1, lib.quantity(t, book.ID))

	_, err = lib.loans.ReturnLoan(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoanQueries(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	ctx := context.Background()
	emma := lib.addBook(t, "Emma", 1)
	dune := lib.addBook(t, "Dune", 1)
	ulysses := lib.addBook(t, "Ulysses", 1)

	returned, err := lib.loans.CreateLoan(ctx, emma.ID, lib.member.ID)
	require.NoError(t, err)
	overdue, err := lib.loans.CreateLoan(ctx, dune.ID, lib.member.ID)
	require.NoError(t, err)

	lib.clock.Set(t, "2024-01-10")
	active, err := lib.loans.CreateLoan(ctx, ulysses.ID, lib.another.ID)
	require.NoError(t, err)
	_, err = lib.loans.ReturnLoan(ctx, returned.ID)
	require.NoError(t, err)

	lib.clock.Set(t, "2024-01-16")

	ids := func(loans []domain.Loan, err error) []string {
		require.NoError(t, err)
		out := make([]string, len(loans))
		for i, l := range loans {
			out[i] = l.ID
		}
		return out
	}

	assert.Equal(t, []string{overdue.ID, active.ID}, ids(lib.loans.ActiveLoans(ctx)))
	assert.Equal(t, []string{overdue.ID}, ids(lib.loans.OverdueLoans(ctx)))
	assert.Equal(t, []string{active.ID}, ids(lib.loans.LoansByStatus(ctx, domain.LoanStatusActive)))
	assert.Equal(t, []string{returned.ID}, ids(lib.loans.LoansByStatus(ctx, domain.LoanStatusReturned)))
	assert.ElementsMatch(t, []string{returned.ID, overdue.ID}, ids(lib.loans.LoansForUser(ctx, lib.member.ID)))
	assert.Len(t, ids(lib.loans.ListLoans(ctx)), 3)

	got, err := lib.loans.GetLoan(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusOverdue, lib.loans.StatusOf(*got))

	_, err = lib.loans.LoansByStatus(ctx, domain.LoanStatus("lost"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = lib.loans.LoansForUser(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeletionBlockedByLoans(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	unread := lib.addBook(t, "Persuasion", 1)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, lib.books.DeleteBook(ctx, book.ID), domain.ErrConflict)
	assert.ErrorIs(t, lib.users.DeleteUser(ctx, lib.member.ID), domain.ErrConflict)

	_, err = lib.loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	err = lib.books.DeleteBook(ctx, book.ID)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "book has loan history", conflict.Reason)
	assert.ErrorIs(t, lib.users.DeleteUser(ctx, lib.member.ID), domain.ErrConflict)

	assert.NoError(t, lib.books.DeleteBook(ctx, unread.ID))
	assert.NoError(t, lib.users.DeleteUser(ctx, lib.another.ID))
}

func TestReturnedLoansSurviveReloadAndLaterCheckouts(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)
	_, err = lib.loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Error(t, lib.users.DeleteUser(ctx, lib.member.ID))

	reopened := openLibrary(t, lib.store)
	_, err = reopened.loans.CreateLoan(ctx, book.ID, lib.another.ID)
	require.NoError(t, err)

	onDisk, err := lib.store.LoadLoans(ctx)
	require.NoError(t, err)
	require.Len(t, onDisk, 2)

	got, err := reopened.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReturned())
	history, err := reopened.loans.LoansForUser(ctx, lib.member.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCallersCannotRewriteStoredLoans(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)
	lib.clock.Set(t, "2024-01-20")
	returned, err := lib.loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	*returned.ReturnDate = returned.ReturnDate.AddDate(0, 0, -30)
	got, err := lib.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	*got.ReturnDate = got.ReturnDate.AddDate(0, 0, -30)
	all, err := lib.loans.ListLoans(ctx)
	require.NoError(t, err)
	*all[0].ReturnDate = all[0].ReturnDate.AddDate(0, 0, -30)

	got, err = lib.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-20", got.ReturnDate.Format(domain.DateLayout))
	assert.Equal(t, 5.0, got.Penalty)

	onDisk, err := lib.store.LoadLoans(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-20", onDisk[0].ReturnDate.Format(domain.DateLayout))
}

func TestStaleBookUpdateCannotRestockLentCopy(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	stale, err := lib.books.GetBook(ctx, book.ID)
	require.NoError(t, err)

	_, err = lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	require.NoError(t, stale.SetTitle("Emma (annotated)"))
	require.NoError(t, lib.books.UpdateBook(ctx, *stale))

	_, err = lib.loans.CreateLoan(ctx, book.ID, lib.another.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	active, err := lib.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 0, lib.quantity(t, book.ID))
}

func TestFailedLoanSaveRestoresQuantity(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	lib.store.fail(true)
	_, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 1, lib.quantity(t, book.ID))

	loans, err := lib.loans.ListLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)

	lib.store.fail(false)
	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	lib.store.fail(true)
	_, err = lib.loans.ReturnLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 0, lib.quantity(t, book.ID))

	got, err := lib.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, got.IsReturned())
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 3)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 9, conflicts)
	assert.Equal(t, 0, lib.quantity(t, book.ID))
}

func TestCheckoutRacingDeletion(t *testing.T) {
	for i := 0; i < 20; i++ {
		lib := newLibrary(t)
		lib.seedUsers(t)
		book := lib.addBook(t, "Emma", 1)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			loanErr   error
			deleteErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, loanErr = lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
		}()
		go func() {
			defer wg.Done()
			deleteErr = lib.books.DeleteBook(ctx, book.ID)
		}()
		wg.Wait()

		require.False(t, loanErr == nil && deleteErr == nil, "both the checkout and the deletion succeeded")
		require.True(t, loanErr == nil || deleteErr == nil, "neither the checkout nor the deletion succeeded")
	}
}

func TestReloadRebuildsLoansAndHistory(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 2)
	ctx := context.Background()

	first, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)
	lib.clock.Set(t, "2024-01-03")
	second, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)
	lib.clock.Set(t, "2024-01-18")
	_, err = lib.loans.ReturnLoan(ctx, first.ID)
	require.NoError(t, err)

	want, err := lib.loans.ListLoans(ctx)
	require.NoError(t, err)

	reopened := openLibrary(t, lib.store)
	got, err := reopened.loans.ListLoans(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	user, err := reopened.users.GetUser(ctx, lib.member.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, user.Loans)
}

func TestLoadSkipsLoansWithUnknownReferences(t *testing.T) {
	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 2)
	ctx := context.Background()

	kept, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)

	loans, err := lib.store.LoadLoans(ctx)
	require.NoError(t, err)
	orphan := *kept
	orphan.ID, orphan.BookID = "orphan-book", "gone"
	loans = append(loans, orphan)
	orphan.ID, orphan.BookID, orphan.UserID = "orphan-user", book.ID, "gone"
	loans = append(loans, orphan)
	require.NoError(t, lib.store.SaveLoans(ctx, loans))

	reopened := openLibrary(t, lib.store)
	got, err := reopened.loans.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, kept.ID, got[0].ID)
}

func TestPenaltyIsWholeDaysLate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		late := rapid.IntRange(-14, 60).Draw(rt, "late")

		lib := newLibrary(t)
		lib.seedUsers(t)
		book := lib.addBook(t, "Emma", 1)
		ctx := context.Background()

		loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
		require.NoError(rt, err)

		lib.clock.mu.Lock()
		lib.clock.now = loan.DueDate.AddDate(0, 0, late).Add(23 * time.Hour)
		lib.clock.mu.Unlock()

		returned, err := lib.loans.ReturnLoan(ctx, loan.ID)
		require.NoError(rt, err)
		assert.Equal(rt, float64(max(late, 0)), returned.Penalty)
	})
}

func TestLoanCountersAreRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	lib := newLibrary(t)
	lib.seedUsers(t)
	book := lib.addBook(t, "Emma", 1)
	ctx := context.Background()

	loan, err := lib.loans.CreateLoan(ctx, book.ID, lib.member.ID)
	require.NoError(t, err)
	lib.clock.Set(t, "2024-01-18")
	_, err = lib.loans.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	ints := map[string]int64{}
	floats := map[string]float64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					ints[m.Name] += dp.Value
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					floats[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), ints["library.loans.opened"])
	assert.Equal(t, int64(1), ints["library.loans.closed"])
	assert.Equal(t, 3.0, floats["library.penalties.charged"])
}

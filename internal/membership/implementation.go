package membership

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libcirc/internal/domain"
)

// service implements the Service interface.
type service struct {
	store    Store
	logger   *slog.Logger
	tracer   trace.Tracer
	throttle *failureThrottle
	admin    domain.User

	mu    sync.RWMutex
	users map[string]domain.User
	guard LoanGuard
}

// Option customises the registry built by NewService.
type Option func(*service)

// WithFailureLimit throttles failed logins to perMinute for each username, allowing burst
// failures in a row. A non-positive perMinute disables throttling.
func WithFailureLimit(perMinute float64, burst int) Option {
	return func(s *service) {
		if perMinute <= 0 {
			s.throttle = nil
			return
		}
		s.throttle = newFailureThrottle(rate.Limit(perMinute/time.Minute.Seconds()), burst)
	}
}

// WithDefaultAdmin overrides the credentials of the account EnsureDefaultAdmin creates.
func WithDefaultAdmin(username, password string) Option {
	return func(s *service) {
		s.admin.Username = username
		s.admin.Password = password
	}
}

// NewService loads the user collection and returns the registry owning it.
func NewService(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) (Service, error) {
	s := &service{
		store:    store,
		logger:   logger,
		tracer:   otel.Tracer("libcirc/membership"),
		throttle: newFailureThrottle(rate.Every(12*time.Second), 5), // 5 failures per minute per username
		admin: domain.User{
			Username:   "admin",
			Password:   "admin123",
			FullName:   "Administrator",
			NationalID: "ADMIN1",
			Phone:      "0123456789",
			Address:    "Library HQ",
			Role:       domain.RoleAdmin,
		},
		users: make(map[string]domain.User),
	}
	for _, opt := range opts {
		opt(s)
	}

	users, err := store.LoadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if _, dup := s.users[u.ID]; dup {
			logger.Warn("skipping duplicate user id", "user_id", u.ID)
			continue
		}
		u.Loans = nil
		s.users[u.ID] = u
	}
	logger.Info("users loaded", "count", len(s.users))
	return s, nil
}

// UseLoanGuard installs the check consulted before a user is deleted.
func (s *service) UseLoanGuard(guard LoanGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
}

// AddUser validates and stores a new user under a fresh id.
func (s *service) AddUser(ctx context.Context, username, password, fullName, nationalID, phone, address string, role domain.Role) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.add_user",
		trace.WithAttributes(attribute.String("user.role", string(role))),
	)
	defer span.End()

	user, err := domain.NewUser(uuid.NewString(), username, password, fullName, nationalID, phone, address, role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insert(ctx, *user); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	out := user.Clone()
	return &out, nil
}

// UpdateUser replaces the stored record after re-validating it. The borrowing history is
// owned by the registry and survives the update unchanged.
func (s *service) UpdateUser(ctx context.Context, user domain.User) error {
	ctx, span := s.tracer.Start(ctx, "membership.update_user",
		trace.WithAttributes(attribute.String("user.id", user.ID)),
	)
	defer span.End()

	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return notFound(user.ID)
	}
	user.Loans = slices.Clone(current.Loans)

	next := maps.Clone(s.users)
	next[user.ID] = user
	return s.commit(ctx, next)
}

// DeleteUser removes a user. The installed LoanGuard refuses while any loan references it.
func (s *service) DeleteUser(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "membership.delete_user",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	remove := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.users[id]; !ok {
			return notFound(id)
		}
		next := maps.Clone(s.users)
		delete(next, id)
		return s.commit(ctx, next)
	}

	s.mu.RLock()
	guard := s.guard
	s.mu.RUnlock()

	if guard == nil {
		return remove()
	}
	return guard.GuardUserRemoval(ctx, id, remove)
}

func (s *service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound(id)
	}
	out := u.Clone()
	return &out, nil
}

// ListUsers returns every user ordered by username.
func (s *service) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		if c := strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

// Authenticate checks candidates in id order and returns the first staff account whose
// password matches. Failures are throttled per username; successes never are.
func (s *service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	_, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	if s.throttle != nil && s.throttle.blocked(username) {
		span.SetAttributes(attribute.Bool("auth.throttled", true))
		return nil, domain.ErrRateLimited
	}

	s.mu.RLock()
	candidates := make([]domain.User, 0, 1)
	for _, u := range s.users {
		if u.Username == username {
			candidates = append(candidates, u)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	for _, u := range candidates {
		if verifyPassword(u, password) {
			span.SetAttributes(attribute.String("user.id", u.ID))
			out := u.Clone()
			return &out, nil
		}
	}

	if s.throttle != nil {
		s.throttle.fail(username)
	}
	s.logger.Warn("failed login", "username", username)
	return nil, domain.ErrInvalidCredentials
}

// Login authenticates and opens a session for the matched staff account.
func (s *service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return Session{User: *user}, nil
}

// EnsureDefaultAdmin creates the bootstrap administrator when no ADMIN exists. It returns
// nil when an administrator is already registered.
func (s *service) EnsureDefaultAdmin(ctx context.Context) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.ensure_default_admin")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Role == domain.RoleAdmin {
			return nil, nil
		}
	}

	a := s.admin
	admin, err := domain.NewUser(uuid.NewString(), a.Username, a.Password, a.FullName, a.NationalID, a.Phone, a.Address, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, *admin); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("default admin created", "user_id", admin.ID, "username", admin.Username)
	out := admin.Clone()
	return &out, nil
}

func (s *service) RecordLoan(ctx context.Context, userID, loanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return notFound(userID)
	}
	if slices.Contains(u.Loans, loanID) {
		return nil
	}
	u.Loans = append(slices.Clone(u.Loans), loanID)
	s.users[userID] = u
	return nil
}

// insert adds u to a copy of the collection and commits it. Callers hold s.mu.
func (s *service) insert(ctx context.Context, u domain.User) error {
	next := maps.Clone(s.users)
	next[u.ID] = u
	return s.commit(ctx, next)
}

// commit persists next and only then makes it the current collection. Callers hold s.mu.
func (s *service) commit(ctx context.Context, next map[string]domain.User) error {
	if err := s.store.SaveUsers(ctx, slices.Collect(maps.Values(next))); err != nil {
		return err
	}
	s.users = next
	return nil
}

func notFound(id string) error {
	return &domain.NotFoundError{Resource: "user", ID: id}
}

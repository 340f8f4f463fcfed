package membership

import (
	"context"

	"libcirc/internal/domain"
)

// Session is the outcome of a successful login. It is passed around explicitly, never
// stored globally.
type Session struct {
	User domain.User `json:"user"`
}

func (s Session) IsLibrarian() bool { return s.User.Role == domain.RoleLibrarian }

func (s Session) IsAdmin() bool { return s.User.Role == domain.RoleAdmin }

func (s Session) IsStaff() bool { return s.User.Role.IsStaff() }

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached by WithSession.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

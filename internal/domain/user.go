package domain

import (
	"slices"
	"strings"
)

// Role determines what a user may do. Only members borrow; only staff log in.
type Role string

const (
	RoleMember    Role = "MEMBER"
	RoleLibrarian Role = "LIBRARIAN"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole accepts the literal role names used in the users file.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleMember, RoleLibrarian, RoleAdmin:
		return r, nil
	default:
		return "", invalid("role", "unknown role "+s)
	}
}

// IsStaff reports whether the role may authenticate.
func (r Role) IsStaff() bool {
	return r == RoleLibrarian || r == RoleAdmin
}

// User is anyone registered with the library: borrowing members and the staff running it.
type User struct {
	ID         string `json:"id" db:"id"`
	Username   string `json:"username" db:"username"`
	Password   string `json:"-" db:"password"`
	FullName   string `json:"full_name" db:"full_name"`
	NationalID string `json:"national_id" db:"national_id"`
	Phone      string `json:"phone" db:"phone"`
	Address    string `json:"address" db:"address"`
	Role       Role   `json:"role" db:"role"`

	// Loans lists the ids of the user's loans, oldest first. It is rebuilt from the loan set
	// and never persisted with the user.
	Loans []string `json:"loans,omitempty" db:"-"`
}

// NewUser builds a validated user.
func NewUser(id, username, password, fullName, nationalID, phone, address string, role Role) (*User, error) {
	u := &User{
		ID:         id,
		Username:   username,
		Password:   password,
		FullName:   fullName,
		NationalID: nationalID,
		Phone:      phone,
		Address:    address,
		Role:       role,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate checks identity and credential constraints.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return invalid("username", "username cannot be empty")
	}
	if strings.TrimSpace(u.FullName) == "" {
		return invalid("full_name", "full name cannot be empty")
	}
	if strings.TrimSpace(u.NationalID) == "" {
		return invalid("national_id", "national id cannot be empty")
	}
	if _, err := ParseRole(string(u.Role)); err != nil {
		return err
	}
	if u.Role.IsStaff() && u.Password == "" {
		return invalid("password", "password is required for librarians and admins")
	}
	return nil
}

// SetRole changes the role, rejecting a staff role for a user without a password.
func (u *User) SetRole(role Role) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	if role.IsStaff() && u.Password == "" {
		return invalid("password", "password is required for librarians and admins")
	}
	u.Role = role
	return nil
}

// SetPassword replaces the password; staff may not clear theirs.
func (u *User) SetPassword(password string) error {
	if u.Role.IsStaff() && password == "" {
		return invalid("password", "password is required for librarians and admins")
	}
	u.Password = password
	return nil
}

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	u.Loans = slices.Clone(u.Loans)
	return u
}

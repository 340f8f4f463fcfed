package clients

import (
	"context"
	"net/http"
	"net/url"

	"libcirc/internal/domain"
	"libcirc/internal/membership"
)

// NewUser carries the fields of a user to register.
type NewUser struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	Role       string `json:"role"`
}

// Login checks credentials without storing them on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*membership.Session, error) {
	var session membership.Session
	req := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", nil, req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) AddUser(ctx context.Context, u NewUser) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodPost, "/users", nil, u, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

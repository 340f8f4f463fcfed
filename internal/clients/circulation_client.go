package clients

import (
	"context"
	"net/http"
	"net/url"

	"libcirc/internal/circulation"
)

// Checkout opens a loan of bookID to userID.
func (c *Client) Checkout(ctx context.Context, bookID, userID string) (*circulation.LoanView, error) {
	var loan circulation.LoanView
	req := map[string]string{"book_id": bookID, "user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/loans", nil, req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Return(ctx context.Context, loanID string) (*circulation.LoanView, error) {
	var loan circulation.LoanView
	if err := c.do(ctx, http.MethodPost, "/loans/"+url.PathEscape(loanID)+"/return", nil, nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) GetLoan(ctx context.Context, id string) (*circulation.LoanView, error) {
	var loan circulation.LoanView
	if err := c.do(ctx, http.MethodGet, "/loans/"+url.PathEscape(id), nil, nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) ActiveLoans(ctx context.Context) ([]circulation.LoanView, error) {
	return c.loans(ctx, "/loans/active")
}

func (c *Client) OverdueLoans(ctx context.Context) ([]circulation.LoanView, error) {
	return c.loans(ctx, "/loans/overdue")
}

func (c *Client) UserLoans(ctx context.Context, userID string) ([]circulation.LoanView, error) {
	return c.loans(ctx, "/users/"+url.PathEscape(userID)+"/loans")
}

func (c *Client) Penalties(ctx context.Context, userID string) (*circulation.PenaltyView, error) {
	var p circulation.PenaltyView
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/penalties", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) loans(ctx context.Context, path string) ([]circulation.LoanView, error) {
	var loans []circulation.LoanView
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

package clients

import (
	"context"
	"net/http"
	"net/url"

	"libcirc/internal/catalog"
)

// NewBook carries the fields of a book to add.
type NewBook struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	Genre           string `json:"genre"`
	Quantity        int    `json:"quantity"`
}

func (c *Client) ListBooks(ctx context.Context) ([]catalog.BookView, error) {
	var books []catalog.BookView
	if err := c.do(ctx, http.MethodGet, "/books", nil, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) ListAvailable(ctx context.Context) ([]catalog.BookView, error) {
	var books []catalog.BookView
	if err := c.do(ctx, http.MethodGet, "/books/available", nil, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]catalog.BookView, error) {
	var books []catalog.BookView
	if err := c.do(ctx, http.MethodGet, "/books/search", url.Values{"q": {query}}, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *Client) GetBook(ctx context.Context, id string) (*catalog.BookView, error) {
	var book catalog.BookView
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) AddBook(ctx context.Context, b NewBook) (*catalog.BookView, error) {
	var book catalog.BookView
	if err := c.do(ctx, http.MethodPost, "/books", nil, b, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) DeleteBook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, nil, nil)
}

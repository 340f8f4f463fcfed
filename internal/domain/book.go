package domain

import (
	"strings"
	"time"
)

// Book is a title held by the library together with the number of copies on the shelf.
type Book struct {
	ID              string `json:"id" db:"id"`
	Title           string `json:"title" db:"title"`
	Author          string `json:"author" db:"author"`
	PublicationYear int    `json:"publication_year" db:"publication_year"`
	Genre           string `json:"genre" db:"genre"`
	Quantity        int    `json:"quantity" db:"quantity"`
}

// NewBook builds a validated book.
func NewBook(id, title, author string, year int, genre string, quantity int) (*Book, error) {
	b := &Book{
		ID:              id,
		Title:           title,
		Author:          author,
		PublicationYear: year,
		Genre:           genre,
		Quantity:        quantity,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// IsAvailable reports whether at least one copy can be lent.
func (b *Book) IsAvailable() bool {
	return b.Quantity > 0
}

// Validate checks every field constraint of the book.
func (b *Book) Validate() error {
	if err := checkTitle(b.Title); err != nil {
		return err
	}
	if err := checkAuthor(b.Author); err != nil {
		return err
	}
	if err := checkYear(b.PublicationYear); err != nil {
		return err
	}
	return checkQuantity(b.Quantity)
}

func (b *Book) SetTitle(title string) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	b.Title = title
	return nil
}

func (b *Book) SetAuthor(author string) error {
	if err := checkAuthor(author); err != nil {
		return err
	}
	b.Author = author
	return nil
}

func (b *Book) SetPublicationYear(year int) error {
	if err := checkYear(year); err != nil {
		return err
	}
	b.PublicationYear = year
	return nil
}

func (b *Book) SetGenre(genre string) {
	b.Genre = genre
}

func (b *Book) SetQuantity(quantity int) error {
	if err := checkQuantity(quantity); err != nil {
		return err
	}
	b.Quantity = quantity
	return nil
}

// Matches reports whether query is a case-insensitive substring of the title, author or genre.
// An empty query matches every book.
func (b *Book) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Author), q) ||
		strings.Contains(strings.ToLower(b.Genre), q)
}

func checkTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return invalid("title", "title cannot be empty")
	}
	return nil
}

func checkAuthor(author string) error {
	if strings.TrimSpace(author) == "" {
		return invalid("author", "author cannot be empty")
	}
	return nil
}

func checkYear(year int) error {
	if year < 0 || year > time.Now().Year() {
		return invalid("publication_year", "invalid publication year")
	}
	return nil
}

func checkQuantity(quantity int) error {
	if quantity < 0 {
		return invalid("quantity", "quantity cannot be negative")
	}
	return nil
}

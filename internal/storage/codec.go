package storage

import (
	"fmt"
	"strconv"
	"strings"

	"libcirc/internal/domain"
)

// Column layouts of the three collection files. The order is part of the file format.
var (
	BookHeader = []string{"id", "title", "author", "publicationYear", "genre", "quantity"}
	UserHeader = []string{"id", "username", "password", "fullName", "nationalId", "phone", "address", "role"}
	LoanHeader = []string{"id", "bookId", "userId", "loanDate", "dueDate", "returnDate", "penalty"}
)

func encodeBook(b domain.Book) []string {
	return []string{
		b.ID,
		b.Title,
		b.Author,
		strconv.Itoa(b.PublicationYear),
		b.Genre,
		strconv.Itoa(b.Quantity),
	}
}

func decodeBook(rec []string) (domain.Book, error) {
	year, err := strconv.Atoi(strings.TrimSpace(rec[3]))
	if err != nil {
		return domain.Book{}, fmt.Errorf("publicationYear: %w", err)
	}
	quantity, err := strconv.Atoi(strings.TrimSpace(rec[5]))
	if err != nil {
		return domain.Book{}, fmt.Errorf("quantity: %w", err)
	}
	b, err := domain.NewBook(rec[0], rec[1], rec[2], year, rec[4], quantity)
	if err != nil {
		return domain.Book{}, err
	}
	if b.ID == "" {
		return domain.Book{}, fmt.Errorf("missing id")
	}
	return *b, nil
}

func encodeUser(u domain.User) []string {
	return []string{
		u.ID,
		u.Username,
		u.Password,
		u.FullName,
		u.NationalID,
		u.Phone,
		u.Address,
		string(u.Role),
	}
}

func decodeUser(rec []string) (domain.User, error) {
	role, err := domain.ParseRole(rec[7])
	if err != nil {
		return domain.User{}, err
	}
	u, err := domain.NewUser(rec[0], rec[1], rec[2], rec[3], rec[4], rec[5], rec[6], role)
	if err != nil {
		return domain.User{}, err
	}
	if u.ID == "" {
		return domain.User{}, fmt.Errorf("missing id")
	}
	return *u, nil
}

func encodeLoan(l domain.Loan) []string {
	returned := ""
	if l.ReturnDate != nil {
		returned = l.ReturnDate.Format(domain.DateLayout)
	}
	return []string{
		l.ID,
		l.BookID,
		l.UserID,
		l.LoanDate.Format(domain.DateLayout),
		l.DueDate.Format(domain.DateLayout),
		returned,
		strconv.FormatFloat(l.Penalty, 'f', 2, 64),
	}
}

func decodeLoan(rec []string) (domain.Loan, error) {
	if rec[0] == "" || rec[1] == "" || rec[2] == "" {
		return domain.Loan{}, fmt.Errorf("missing id reference")
	}
	loanDate, err := domain.ParseDate(rec[3])
	if err != nil {
		return domain.Loan{}, fmt.Errorf("loanDate: %w", err)
	}
	dueDate, err := domain.ParseDate(rec[4])
	if err != nil {
		return domain.Loan{}, fmt.Errorf("dueDate: %w", err)
	}
	l := domain.Loan{
		ID:       rec[0],
		BookID:   rec[1],
		UserID:   rec[2],
		LoanDate: loanDate,
		DueDate:  dueDate,
	}
	if rec[5] != "" {
		returned, err := domain.ParseDate(rec[5])
		if err != nil {
			return domain.Loan{}, fmt.Errorf("returnDate: %w", err)
		}
		l.ReturnDate = &returned
	}
	l.Penalty, err = strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("penalty: %w", err)
	}
	if l.Penalty < 0 {
		return domain.Loan{}, fmt.Errorf("penalty: negative value")
	}
	return l, nil
}

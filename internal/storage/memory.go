package storage

import (
	"context"
	"slices"
	"sync"

	"libcirc/internal/domain"
)

// Memory keeps the collections in process memory. Nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	books []domain.Book
	users []domain.User
	loans []domain.Loan
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadBooks(context.Context) ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.books), nil
}

func (m *Memory) SaveBooks(_ context.Context, books []domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = slices.Clone(books)
	return nil
}

func (m *Memory) LoadUsers(context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.User, len(m.users))
	for i, u := range m.users {
		users[i] = u.Clone()
	}
	return users, nil
}

func (m *Memory) SaveUsers(_ context.Context, users []domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make([]domain.User, len(users))
	for i, u := range users {
		u.Loans = nil
		m.users[i] = u
	}
	return nil
}

func (m *Memory) LoadLoans(context.Context) ([]domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneLoans(m.loans), nil
}

func (m *Memory) SaveLoans(_ context.Context, loans []domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans = cloneLoans(loans)
	return nil
}

func cloneLoans(loans []domain.Loan) []domain.Loan {
	out := make([]domain.Loan, len(loans))
	for i, l := range loans {
		out[i] = l.Clone()
	}
	return out
}

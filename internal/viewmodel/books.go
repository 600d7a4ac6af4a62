package viewmodel

import (
	"context"
	"slices"
	"sync"

	"librarydesk/internal/libraryclient"
	"librarydesk/pkg/domain"
)

// Books is the book catalogue view.
type Books struct {
	lib Library

	mu    sync.RWMutex
	items []domain.Book
}

func NewBooks(lib Library) *Books {
	return &Books{lib: lib}
}

// Load replaces the cache with the remote catalogue.
func (b *Books) Load(ctx context.Context) error {
	items, err := b.lib.ListBooks(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.items = items
	b.mu.Unlock()
	return nil
}

func (b *Books) Items() []domain.Book {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.items)
}

// WithStatus returns the cached books currently in status.
func (b *Books) WithStatus(status domain.BookStatus) []domain.Book {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return filterBooks(b.items, status)
}

func (b *Books) Find(id int64) (domain.Book, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return findBook(b.items, id)
}

// Search queries the remote catalogue without touching the cache.
func (b *Books) Search(ctx context.Context, field libraryclient.SearchField, query string) ([]domain.Book, error) {
	return b.lib.SearchBooks(ctx, field, query)
}

func findBook(books []domain.Book, id int64) (domain.Book, bool) {
	for _, book := range books {
		if book.ID == id {
			return book, true
		}
	}
	return domain.Book{}, false
}

package viewmodel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"librarydesk/internal/libraryclient"
	"librarydesk/pkg/domain"
)

// Reservations is the reservation list view.
type Reservations struct {
	lib Library

	mu           sync.RWMutex
	reservations []domain.Reservation
	books        []domain.Book
}

func NewReservations(lib Library) *Reservations {
	return &Reservations{lib: lib}
}

// Load fetches reservations and books concurrently and replaces both caches.
func (r *Reservations) Load(ctx context.Context) error {
	var reservations []domain.Reservation
	var books []domain.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.lib.ListReservations(gctx)
		reservations = out
		return err
	})
	g.Go(func() error {
		out, err := r.lib.ListBooks(gctx)
		books = out
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	r.mu.Lock()
	r.reservations = reservations
	r.books = books
	r.mu.Unlock()
	return nil
}

func (r *Reservations) Items() []domain.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.reservations)
}

func (r *Reservations) Active() []domain.Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeReservations(r.reservations)
}

// Create reserves bookID for userID, then re-fetches the view.
func (r *Reservations) Create(ctx context.Context, bookID, userID int64) (domain.Reservation, error) {
	r.mu.RLock()
	book, ok := findBook(r.books, bookID)
	active := activeReservations(r.reservations)
	r.mu.RUnlock()
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: book %d", ErrNotLoaded, bookID)
	}
	res, err := r.lib.CreateReservation(ctx, libraryclient.NewReservation{
		Book:               book,
		UserID:             userID,
		ActiveReservations: active,
	})
	return res, afterMutation(ctx, err, r.Load)
}

// Cancel deactivates reservationID, then re-fetches the view.
func (r *Reservations) Cancel(ctx context.Context, reservationID int64) (domain.Reservation, error) {
	r.mu.RLock()
	var res domain.Reservation
	ok := false
	for _, candidate := range r.reservations {
		if candidate.ID == reservationID {
			res, ok = candidate, true
			break
		}
	}
	r.mu.RUnlock()
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %d", ErrNotLoaded, reservationID)
	}
	cancelled, err := r.lib.CancelReservation(ctx, res)
	return cancelled, afterMutation(ctx, err, r.Load)
}

func activeReservations(reservations []domain.Reservation) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(reservations))
	for _, res := range reservations {
		if res.Active {
			out = append(out, res)
		}
	}
	return out
}

// Package viewmodel holds the read caches consumed by the presentation layer.
// Caches are replaced only by re-fetching; mutations never patch them.
package viewmodel

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"librarydesk/internal/libraryclient"
	"librarydesk/internal/session"
	"librarydesk/internal/util"
	"librarydesk/pkg/domain"
	"librarydesk/pkg/lifecycle"
)

var (
	// ErrStale indicates a mutation succeeded but the follow-up refresh failed.
	ErrStale = errors.New("view is stale")
	// ErrNotLoaded indicates the referenced item is not in the loaded view.
	ErrNotLoaded = errors.New("item not in loaded view")
)

// Library is the resource surface the view models consume.
type Library interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	SearchBooks(ctx context.Context, field libraryclient.SearchField, query string) ([]domain.Book, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListLoans(ctx context.Context) ([]domain.Loan, error)
	CreateLoan(ctx context.Context, in libraryclient.NewLoan) (domain.Loan, error)
	LoanStatistics(ctx context.Context) (domain.LoanStatistics, error)
	ReturnLoan(ctx context.Context, in libraryclient.LoanReturn) (domain.ReturnReceipt, error)
	ListReservations(ctx context.Context) ([]domain.Reservation, error)
	ListActiveReservations(ctx context.Context) ([]domain.Reservation, error)
	CreateReservation(ctx context.Context, in libraryclient.NewReservation) (domain.Reservation, error)
	CancelReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	Rules() lifecycle.Rules
}

// FormData is what a loan or reservation form offers for selection.
type FormData struct {
	Users []domain.User `json:"users"`
	Books []domain.Book `json:"books"`
}

// LoadLoanForm loads users and the books that can be loaned.
func LoadLoanForm(ctx context.Context, lib Library) (FormData, error) {
	return loadForm(ctx, lib, domain.StatusAvailable)
}

// LoadReservationForm loads users and the books that can be reserved.
func LoadReservationForm(ctx context.Context, lib Library) (FormData, error) {
	return loadForm(ctx, lib, domain.StatusBorrowed)
}

func loadForm(ctx context.Context, lib Library, status domain.BookStatus) (FormData, error) {
	var users []domain.User
	var books []domain.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := lib.ListUsers(gctx)
		users = out
		return err
	})
	g.Go(func() error {
		out, err := lib.ListBooks(gctx)
		books = out
		return err
	})
	if err := g.Wait(); err != nil {
		return FormData{}, err
	}
	return FormData{Users: users, Books: filterBooks(books, status)}, nil
}

func filterBooks(books []domain.Book, status domain.BookStatus) []domain.Book {
	out := make([]domain.Book, 0, len(books))
	for _, b := range books {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}

// afterMutation re-fetches a view once a mutation settled. A successful
// mutation whose refresh fails is reported as ErrStale alongside the result.
// A remote rejection triggers a best-effort refresh and is returned as is.
func afterMutation(ctx context.Context, mutErr error, reload func(context.Context) error) error {
	if mutErr != nil {
		if errors.Is(mutErr, session.ErrRemoteRejected) {
			if err := reload(ctx); err != nil {
				util.LoggerFromContext(ctx).Warn("view.reload", "result", "fail", "err", err)
			}
		}
		return mutErr
	}
	if err := reload(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStale, err)
	}
	return nil
}

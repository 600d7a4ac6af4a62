package viewmodel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"librarydesk/internal/libraryclient"
	"librarydesk/pkg/domain"
	"librarydesk/pkg/lifecycle"
)

// LoanRow is a loan decorated with values derived at read time.
type LoanRow struct {
	domain.Loan
	Overdue  bool  `json:"overdue"`
	DaysLate int   `json:"days_late"`
	Fine     int64 `json:"fine"`
}

// Loans is the loan list view. It keeps the catalogue alongside the loans
// because creating a loan needs the book's latest status.
type Loans struct {
	lib Library
	now func() time.Time

	mu    sync.RWMutex
	loans []domain.Loan
	books []domain.Book
}

func NewLoans(lib Library) *Loans {
	return &Loans{lib: lib, now: time.Now}
}

// Load fetches loans and books concurrently and replaces both caches.
func (l *Loans) Load(ctx context.Context) error {
	var loans []domain.Loan
	var books []domain.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := l.lib.ListLoans(gctx)
		loans = out
		return err
	})
	g.Go(func() error {
		out, err := l.lib.ListBooks(gctx)
		books = out
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	l.mu.Lock()
	l.loans = loans
	l.books = books
	l.mu.Unlock()
	return nil
}

func (l *Loans) Items() []domain.Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.loans)
}

// Rows decorates every cached loan with overdue state and fine estimate.
func (l *Loans) Rows() []LoanRow {
	rules := l.lib.Rules()
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := make([]LoanRow, 0, len(l.loans))
	for _, loan := range l.loans {
		days, fine := rules.Fine(loan, now)
		rows = append(rows, LoanRow{
			Loan:     loan,
			Overdue:  lifecycle.IsOverdue(loan, now),
			DaysLate: days,
			Fine:     fine,
		})
	}
	return rows
}

// Overdue returns the open loans past their due date.
func (l *Loans) Overdue() []domain.Loan {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Loan
	for _, loan := range l.loans {
		if lifecycle.IsOverdue(loan, now) {
			out = append(out, loan)
		}
	}
	return out
}

// Inconsistent returns the cached books whose status disagrees with the
// cached loans.
func (l *Loans) Inconsistent() []domain.Book {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Book
	for _, book := range l.books {
		if !lifecycle.ConsistentStatus(book, l.loans) {
			out = append(out, book)
		}
	}
	return out
}

// Create loans bookID to userID using the cached book snapshot, then
// re-fetches the view.
func (l *Loans) Create(ctx context.Context, bookID, userID int64, due domain.Date) (domain.Loan, error) {
	l.mu.RLock()
	book, ok := findBook(l.books, bookID)
	open := openLoans(l.loans)
	l.mu.RUnlock()
	if !ok {
		return domain.Loan{}, fmt.Errorf("%w: book %d", ErrNotLoaded, bookID)
	}
	loan, err := l.lib.CreateLoan(ctx, libraryclient.NewLoan{
		Book:      book,
		UserID:    userID,
		DueDate:   due,
		OpenLoans: open,
	})
	return loan, afterMutation(ctx, err, l.Load)
}

// Return settles loanID, then re-fetches the view.
func (l *Loans) Return(ctx context.Context, loanID int64, damaged bool) (domain.ReturnReceipt, error) {
	l.mu.RLock()
	var loan domain.Loan
	ok := false
	for _, candidate := range l.loans {
		if candidate.ID == loanID {
			loan, ok = candidate, true
			break
		}
	}
	open := openLoans(l.loans)
	l.mu.RUnlock()
	if !ok {
		return domain.ReturnReceipt{}, fmt.Errorf("%w: loan %d", ErrNotLoaded, loanID)
	}
	receipt, err := l.lib.ReturnLoan(ctx, libraryclient.LoanReturn{
		Loan:      loan,
		Damaged:   damaged,
		OpenLoans: open,
	})
	return receipt, afterMutation(ctx, err, l.Load)
}

func openLoans(loans []domain.Loan) []domain.Loan {
	out := make([]domain.Loan, 0, len(loans))
	for _, loan := range loans {
		if loan.Open() {
			out = append(out, loan)
		}
	}
	return out
}

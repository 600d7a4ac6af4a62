// Package lifecycle decides which loan and reservation actions are legal for a
// book and what state they are expected to leave behind. It performs no I/O:
// the remote service remains the authority, these checks only keep doomed
// requests from being sent and give callers an expected post-state.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"librarydesk/pkg/domain"
)

var (
	// ErrBookUnavailable indicates a loan was requested for a book that is not available.
	ErrBookUnavailable = errors.New("book is not available for loan")
	// ErrInvalidReservation indicates a reservation was requested for a book that is not borrowed.
	ErrInvalidReservation = errors.New("only borrowed books can be reserved")
	// ErrLoanReturned indicates the loan was already returned.
	ErrLoanReturned = errors.New("loan already returned")
	// ErrReservationInactive indicates the reservation was already cancelled.
	ErrReservationInactive = errors.New("reservation already cancelled")
	// ErrLoanLimitReached indicates the user holds the maximum number of open loans.
	ErrLoanLimitReached = errors.New("user reached the open loan limit")
	// ErrDueDateInPast indicates the requested due date is before today.
	ErrDueDateInPast = errors.New("due date cannot be before today")
	// ErrDuplicateReservation indicates the user already holds an active reservation for the book.
	ErrDuplicateReservation = errors.New("user already has an active reservation for this book")
	// ErrUnknownStatus indicates a book status outside the known set.
	ErrUnknownStatus = errors.New("unknown book status")
	// ErrIllegalTransition indicates an action that has no edge from the current status.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInconsistentResult indicates the remote response contradicts the requested action.
	ErrInconsistentResult = errors.New("remote result inconsistent with requested action")
)

// Action is an operation that may change a book's status.
type Action string

const (
	ActionLoan        Action = "loan"
	ActionReturn      Action = "return"
	ActionReserve     Action = "reserve"
	ActionCancel      Action = "cancel"
	ActionMarkLost    Action = "mark_lost"
	ActionMarkDamaged Action = "mark_damaged"
)

// Transition returns the status a book moves to when action is applied.
func Transition(status domain.BookStatus, action Action) (domain.BookStatus, error) {
	if !status.Valid() {
		return status, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	switch action {
	case ActionLoan:
		if status != domain.StatusAvailable {
			return status, ErrBookUnavailable
		}
		return domain.StatusBorrowed, nil
	case ActionReturn:
		if status != domain.StatusBorrowed {
			return status, fmt.Errorf("%w: return from %s", ErrIllegalTransition, status)
		}
		return domain.StatusAvailable, nil
	case ActionReserve:
		if status != domain.StatusBorrowed {
			return status, ErrInvalidReservation
		}
		return domain.StatusBorrowed, nil
	case ActionCancel:
		return status, nil
	case ActionMarkLost:
		return domain.StatusLost, nil
	case ActionMarkDamaged:
		return domain.StatusDamaged, nil
	}
	return status, fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, action)
}

// Rules carries the tunable limits of the circulation policy.
type Rules struct {
	// MaxOpenLoans caps unreturned loans per user; zero disables the check.
	MaxOpenLoans int
	// FinePerDay is charged for each late day past GraceDays.
	FinePerDay int64
	GraceDays  int
}

// DefaultRules mirrors the remote service defaults.
func DefaultRules() Rules {
	return Rules{
		MaxOpenLoans: 5,
		FinePerDay:   10,
		GraceDays:    2,
	}
}

// LoanRequest describes a loan about to be created.
type LoanRequest struct {
	Book    domain.Book
	UserID  int64
	DueDate domain.Date
	// OpenLoans are the unreturned loans known to the caller, across all books.
	OpenLoans []domain.Loan
}

// CheckLoan validates a loan request and returns the book's expected status.
func (r Rules) CheckLoan(req LoanRequest, now time.Time) (domain.BookStatus, error) {
	next, err := Transition(req.Book.Status, ActionLoan)
	if err != nil {
		return req.Book.Status, err
	}
	if !req.DueDate.IsZero() && req.DueDate.Before(domain.NewDate(now).Time) {
		return req.Book.Status, ErrDueDateInPast
	}
	userOpen := 0
	for _, loan := range req.OpenLoans {
		if !loan.Open() {
			continue
		}
		if loan.Book.ID == req.Book.ID {
			return req.Book.Status, ErrBookUnavailable
		}
		if loan.User.ID == req.UserID {
			userOpen++
		}
	}
	if r.MaxOpenLoans > 0 && userOpen >= r.MaxOpenLoans {
		return req.Book.Status, fmt.Errorf("%w (%d)", ErrLoanLimitReached, r.MaxOpenLoans)
	}
	return next, nil
}

// ConfirmLoan checks a created loan against the request that produced it.
func ConfirmLoan(req LoanRequest, loan domain.Loan) error {
	if loan.Returned || loan.ReturnedDate != nil {
		return fmt.Errorf("%w: new loan %d is already returned", ErrInconsistentResult, loan.ID)
	}
	if loan.Book.ID != 0 && loan.Book.ID != req.Book.ID {
		return fmt.Errorf("%w: loan %d references book %d, want %d", ErrInconsistentResult, loan.ID, loan.Book.ID, req.Book.ID)
	}
	if loan.User.ID != 0 && loan.User.ID != req.UserID {
		return fmt.Errorf("%w: loan %d references user %d, want %d", ErrInconsistentResult, loan.ID, loan.User.ID, req.UserID)
	}
	return nil
}

// CheckReturn validates returning loan and returns the book's expected status.
// The book reverts to available only when no other open loan references it.
func CheckReturn(loan domain.Loan, openLoans []domain.Loan) (domain.BookStatus, error) {
	if loan.Returned {
		return loan.Book.Status, ErrLoanReturned
	}
	for _, other := range openLoans {
		if other.ID != loan.ID && other.Open() && other.Book.ID == loan.Book.ID {
			return domain.StatusBorrowed, nil
		}
	}
	return domain.StatusAvailable, nil
}

// ApplyReturn returns the optimistic post-state of a returned loan.
func ApplyReturn(loan domain.Loan, now time.Time) domain.Loan {
	if loan.Returned {
		return loan
	}
	returnedAt := domain.Timestamp{Time: now.UTC()}
	loan.Returned = true
	loan.ReturnedDate = &returnedAt
	return loan
}

// ConfirmReturn checks that the remote loan is now returned.
func ConfirmReturn(requested domain.Loan, returned domain.Loan) error {
	if returned.ID != 0 && returned.ID != requested.ID {
		return fmt.Errorf("%w: returned loan %d, want %d", ErrInconsistentResult, returned.ID, requested.ID)
	}
	if !returned.Returned {
		return fmt.Errorf("%w: loan %d still open after return", ErrInconsistentResult, requested.ID)
	}
	return nil
}

// ReservationRequest describes a reservation about to be created.
type ReservationRequest struct {
	Book   domain.Book
	UserID int64
	// ActiveReservations are the active reservations known to the caller.
	ActiveReservations []domain.Reservation
}

// CheckReservation validates a reservation request.
func CheckReservation(req ReservationRequest) error {
	if _, err := Transition(req.Book.Status, ActionReserve); err != nil {
		return err
	}
	for _, existing := range req.ActiveReservations {
		if existing.Active && existing.Book.ID == req.Book.ID && existing.User.ID == req.UserID {
			return ErrDuplicateReservation
		}
	}
	return nil
}

// ConfirmReservation checks a created reservation against its request.
func ConfirmReservation(req ReservationRequest, res domain.Reservation) error {
	if !res.Active {
		return fmt.Errorf("%w: new reservation %d is inactive", ErrInconsistentResult, res.ID)
	}
	if res.Book.ID != 0 && res.Book.ID != req.Book.ID {
		return fmt.Errorf("%w: reservation %d references book %d, want %d", ErrInconsistentResult, res.ID, res.Book.ID, req.Book.ID)
	}
	return nil
}

// CheckCancel validates cancelling res. Cancellation never changes book status.
func CheckCancel(res domain.Reservation) error {
	if !res.Active {
		return ErrReservationInactive
	}
	return nil
}

// ApplyCancel returns the optimistic post-state of a cancelled reservation.
func ApplyCancel(res domain.Reservation) domain.Reservation {
	res.Active = false
	return res
}

// ConfirmCancel checks that the remote reservation is now inactive.
func ConfirmCancel(requested domain.Reservation, cancelled domain.Reservation) error {
	if cancelled.ID == 0 {
		return nil
	}
	if cancelled.ID != requested.ID {
		return fmt.Errorf("%w: cancelled reservation %d, want %d", ErrInconsistentResult, cancelled.ID, requested.ID)
	}
	if cancelled.Active {
		return fmt.Errorf("%w: reservation %d still active after cancel", ErrInconsistentResult, requested.ID)
	}
	return nil
}

// IsOverdue reports whether an open loan is past its due date. Overdue is
// derived on read and never drives a transition.
func IsOverdue(loan domain.Loan, now time.Time) bool {
	if loan.Returned || loan.DueDate.IsZero() {
		return false
	}
	return loan.DueDate.Before(now)
}

// Fine estimates late days and the fine owed for loan. Returned loans are
// measured at their return date, open loans at now.
func (r Rules) Fine(loan domain.Loan, now time.Time) (daysLate int, amount int64) {
	if loan.DueDate.IsZero() {
		return 0, 0
	}
	end := now
	if loan.Returned && loan.ReturnedDate != nil {
		end = loan.ReturnedDate.Time
	}
	days := int(domain.NewDate(end).Sub(loan.DueDate.Time).Hours() / 24)
	if days <= 0 {
		return 0, 0
	}
	if days > r.GraceDays {
		amount = int64(days-r.GraceDays) * r.FinePerDay
	}
	return days, amount
}

// ConsistentStatus reports whether book.Status agrees with the open loans in
// loans: available books have none, borrowed books have at least one. Lost
// and damaged are administrative and always considered consistent.
func ConsistentStatus(book domain.Book, loans []domain.Loan) bool {
	open := false
	for _, loan := range loans {
		if loan.Book.ID == book.ID && loan.Open() {
			open = true
			break
		}
	}
	switch book.Status {
	case domain.StatusAvailable:
		return !open
	case domain.StatusBorrowed:
		return open
	}
	return true
}

package libraryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"librarydesk/internal/session"
	"librarydesk/internal/util"
	"librarydesk/pkg/domain"
	"librarydesk/pkg/lifecycle"
)

// Caller dispatches an authorized request. *session.Manager implements it.
type Caller interface {
	Call(ctx context.Context, req session.Request, out any) error
}

// Client exposes the library resources of the remote service.
type Client struct {
	caller Caller
	rules  lifecycle.Rules
	now    func() time.Time
}

// NewClient constructs a library client that routes every call through caller.
func NewClient(caller Caller, rules lifecycle.Rules) *Client {
	return &Client{
		caller: caller,
		rules:  rules,
		now:    time.Now,
	}
}

// Rules returns the circulation rules the client pre-checks against.
func (c *Client) Rules() lifecycle.Rules {
	return c.rules
}

// SearchField selects what SearchBooks matches against.
type SearchField string

const (
	SearchAll    SearchField = "all"
	SearchTitle  SearchField = "title"
	SearchAuthor SearchField = "author"
	SearchGenre  SearchField = "genre"
	SearchCode   SearchField = "code"
)

// ParseSearchField normalizes s; empty selects SearchAll.
func ParseSearchField(s string) (SearchField, error) {
	switch field := SearchField(strings.ToLower(strings.TrimSpace(s))); field {
	case "":
		return SearchAll, nil
	case SearchAll, SearchTitle, SearchAuthor, SearchGenre, SearchCode:
		return field, nil
	}
	return "", fmt.Errorf("unknown search field %q", s)
}

func (c *Client) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var resp listResponse[domain.Book]
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/books/"}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SearchBooks matches query against field. Transport failures degrade to an
// empty result; every other error propagates.
func (c *Client) SearchBooks(ctx context.Context, field SearchField, query string) ([]domain.Book, error) {
	if field == "" {
		field = SearchAll
	}
	req := session.Request{
		Method: http.MethodGet,
		Path:   "/books/search/",
		Query:  url.Values{"type": {string(field)}, "query": {query}},
	}
	var resp listResponse[domain.Book]
	if err := c.caller.Call(ctx, req, &resp); err != nil {
		if errors.Is(err, session.ErrTransportFailure) {
			util.LoggerFromContext(ctx).Warn("books.search", "result", "degraded", "field", field, "err", err)
			return []domain.Book{}, nil
		}
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var resp listResponse[domain.User]
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/users/"}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	var resp listResponse[domain.Loan]
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/loans/"}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// LoanStatistics fetches the remote loan report.
func (c *Client) LoanStatistics(ctx context.Context) (domain.LoanStatistics, error) {
	var stats domain.LoanStatistics
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/loans/statistics/"}, &stats); err != nil {
		return domain.LoanStatistics{}, err
	}
	return stats, nil
}

// NewLoan is the input of CreateLoan. Book is the caller's latest snapshot;
// OpenLoans feed the per-book and per-user pre-checks.
type NewLoan struct {
	Book      domain.Book
	UserID    int64
	DueDate   domain.Date
	OpenLoans []domain.Loan
}

// CreateLoan pre-checks the loan and, when legal, asks the remote service to
// create it. A rejected pre-check issues no request.
func (c *Client) CreateLoan(ctx context.Context, in NewLoan) (domain.Loan, error) {
	req := lifecycle.LoanRequest{
		Book:      in.Book,
		UserID:    in.UserID,
		DueDate:   in.DueDate,
		OpenLoans: in.OpenLoans,
	}
	if _, err := c.rules.CheckLoan(req, c.now()); err != nil {
		return domain.Loan{}, err
	}
	body := createLoanRequest{BookID: in.Book.ID, UserID: in.UserID}
	if !in.DueDate.IsZero() {
		body.DueDate = &in.DueDate
	}
	var loan domain.Loan
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodPost, Path: "/loans/", Body: body}, &loan); err != nil {
		return domain.Loan{}, err
	}
	if err := lifecycle.ConfirmLoan(req, loan); err != nil {
		return domain.Loan{}, err
	}
	util.LoggerFromContext(ctx).Info("loan.create", "loan_id", loan.ID, "book_id", in.Book.ID, "user_id", in.UserID)
	return loan, nil
}

// LoanReturn is the input of ReturnLoan. OpenLoans are the unreturned loans
// known to the caller; they decide whether the book reverts to available.
type LoanReturn struct {
	Loan      domain.Loan
	Damaged   bool
	OpenLoans []domain.Loan
}

// ReturnLoan settles a loan. Damaged marks the book damaged on the remote
// side. When the response omits the book status, the receipt carries the
// status the return is expected to leave behind.
func (c *Client) ReturnLoan(ctx context.Context, in LoanReturn) (domain.ReturnReceipt, error) {
	loan := in.Loan
	expected, err := lifecycle.CheckReturn(loan, in.OpenLoans)
	if err != nil {
		return domain.ReturnReceipt{}, err
	}
	body := returnLoanRequest{}
	if in.Damaged {
		expected = domain.StatusDamaged
		damaged := true
		body.Damaged = &damaged
	}
	path := fmt.Sprintf("/loans/%d/return_book/", loan.ID)
	var receipt domain.ReturnReceipt
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodPost, Path: path, Body: body}, &receipt); err != nil {
		return domain.ReturnReceipt{}, err
	}
	if err := lifecycle.ConfirmReturn(loan, receipt.Loan); err != nil {
		return domain.ReturnReceipt{}, err
	}
	logger := util.LoggerFromContext(ctx)
	switch got := receipt.Loan.Book.Status; {
	case got == "":
		receipt.Loan.Book.Status = expected
	case got != expected:
		logger.Warn("loan.return", "result", "status_mismatch", "loan_id", loan.ID, "book_id", loan.Book.ID, "expected", expected, "remote", got)
	}
	logger.Info("loan.return", "loan_id", loan.ID, "book_status", receipt.Loan.Book.Status, "days_late", receipt.DaysLate, "fine_amount", receipt.FineAmount)
	return receipt, nil
}

func (c *Client) ListReservations(ctx context.Context) ([]domain.Reservation, error) {
	var resp listResponse[domain.Reservation]
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/reservations/"}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) ListActiveReservations(ctx context.Context) ([]domain.Reservation, error) {
	var resp listResponse[domain.Reservation]
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodGet, Path: "/reservations/active/"}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// NewReservation is the input of CreateReservation.
type NewReservation struct {
	Book               domain.Book
	UserID             int64
	ActiveReservations []domain.Reservation
}

// CreateReservation queues the user on a borrowed book.
func (c *Client) CreateReservation(ctx context.Context, in NewReservation) (domain.Reservation, error) {
	req := lifecycle.ReservationRequest{
		Book:               in.Book,
		UserID:             in.UserID,
		ActiveReservations: in.ActiveReservations,
	}
	if err := lifecycle.CheckReservation(req); err != nil {
		return domain.Reservation{}, err
	}
	body := createReservationRequest{BookID: in.Book.ID, UserID: in.UserID}
	var resp reservationResponse
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodPost, Path: "/reservations/", Body: body}, &resp); err != nil {
		return domain.Reservation{}, err
	}
	res := resp.reservation(in)
	if err := lifecycle.ConfirmReservation(req, res); err != nil {
		return domain.Reservation{}, err
	}
	util.LoggerFromContext(ctx).Info("reservation.create", "reservation_id", res.ID, "book_id", in.Book.ID, "user_id", in.UserID)
	return res, nil
}

// CancelReservation deactivates res. Book status is unaffected.
func (c *Client) CancelReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	if err := lifecycle.CheckCancel(res); err != nil {
		return domain.Reservation{}, err
	}
	path := fmt.Sprintf("/reservations/%d/cancel/", res.ID)
	var cancelled domain.Reservation
	if err := c.caller.Call(ctx, session.Request{Method: http.MethodPost, Path: path, Body: struct{}{}}, &cancelled); err != nil {
		return domain.Reservation{}, err
	}
	if err := lifecycle.ConfirmCancel(res, cancelled); err != nil {
		return domain.Reservation{}, err
	}
	if cancelled.ID == 0 {
		cancelled = lifecycle.ApplyCancel(res)
	}
	util.LoggerFromContext(ctx).Info("reservation.cancel", "reservation_id", res.ID)
	return cancelled, nil
}

type createLoanRequest struct {
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
	// Omitted when zero so the remote service assigns its default term.
	DueDate *domain.Date `json:"due_date,omitempty"`
}

type returnLoanRequest struct {
	Damaged *bool `json:"damaged,omitempty"`
}

type createReservationRequest struct {
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
}

// reservationResponse accepts either a full reservation or the echoed
// {book_id, user_id} body some deployments return on create.
type reservationResponse struct {
	domain.Reservation
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
}

func (r reservationResponse) reservation(in NewReservation) domain.Reservation {
	if r.ID != 0 {
		return r.Reservation
	}
	return domain.Reservation{
		Book:   in.Book,
		User:   domain.User{ID: in.UserID},
		Active: true,
	}
}

// listResponse decodes a bare JSON array or a paginated {count, results} page.
type listResponse[T any] struct {
	Items []T
	Count int
}

func (l *listResponse[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		l.Items = items
		l.Count = len(items)
		return nil
	}
	var page struct {
		Count   int `json:"count"`
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	l.Items = page.Results
	l.Count = page.Count
	if l.Items == nil {
		l.Items = []T{}
	}
	return nil
}

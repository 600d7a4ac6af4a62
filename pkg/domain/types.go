package domain

import "time"

type BookStatus string

const (
	StatusAvailable BookStatus = "available"
	StatusBorrowed  BookStatus = "borrowed"
	StatusLost      BookStatus = "lost"
	StatusDamaged   BookStatus = "damaged"
)

// Valid reports whether s is one of the statuses the remote service emits.
func (s BookStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusLost, StatusDamaged:
		return true
	}
	return false
}

type Book struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Genre     string     `json:"genre"`
	Code      string     `json:"code"`
	Status    BookStatus `json:"status"`
	CreatedAt Timestamp  `json:"created_at"`
	UpdatedAt Timestamp  `json:"updated_at"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

type Loan struct {
	ID           int64      `json:"id"`
	Book         Book       `json:"book"`
	User         User       `json:"user"`
	LoanDate     Timestamp  `json:"loan_date"`
	DueDate      Date       `json:"due_date"`
	ReturnedDate *Timestamp `json:"returned_date"`
	Returned     bool       `json:"returned"`
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool {
	return !l.Returned
}

type Reservation struct {
	ID              int64     `json:"id"`
	Book            Book      `json:"book"`
	User            User      `json:"user"`
	ReservationDate Timestamp `json:"reservation_date"`
	Active          bool      `json:"active"`
}

// ReturnReceipt is the body of a successful return action.
type ReturnReceipt struct {
	Loan       Loan  `json:"loan"`
	FineAmount int64 `json:"fine_amount"`
	DaysLate   int   `json:"days_late"`
}

// Credentials is the bearer token pair held for one client session.
type Credentials struct {
	AccessToken      string    `json:"accessToken" yaml:"accessToken"`
	RefreshToken     string    `json:"refreshToken" yaml:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt" yaml:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt" yaml:"refreshExpiresAt"`
}

// Complete reports whether both tokens are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LoanStatistics is the loan report of GET /loans/statistics/.
type LoanStatistics struct {
	TotalLoans       int               `json:"total_loans"`
	MonthlyBreakdown []MonthlyLoans    `json:"monthly_breakdown"`
	OverdueLoans     OverdueStatistics `json:"overdue_loans"`
	UserStatistics   []UserLoanStats   `json:"user_statistics"`
}

type MonthlyLoans struct {
	Month      Timestamp `json:"month"`
	TotalLoans int       `json:"total_loans"`
	// AvgLoanDuration covers returned loans only; zero when none were returned.
	AvgLoanDuration Seconds `json:"avg_loan_duration"`
}

type OverdueStatistics struct {
	TotalOverdue int `json:"total_overdue"`
	// OverdueByDays counts open overdue loans keyed by whole days past due.
	OverdueByDays map[string]int `json:"overdue_by_days"`
}

type UserLoanStats struct {
	Username     string `json:"user__username"`
	Email        string `json:"user__email"`
	TotalLoans   int    `json:"total_loans"`
	OverdueLoans int    `json:"overdue_loans"`
}

// Seconds is a duration serialized as a number of seconds. The remote
// service sends it as a quoted decimal ("86400.0"), a bare number, or null.
type Seconds struct {
	time.Duration
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	if s.Duration == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(strconv.FormatFloat(s.Seconds(), 'f', -1, 64))
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Seconds{}
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	if raw == "" {
		*s = Seconds{}
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse seconds %q: %w", raw, err)
	}
	*s = Seconds{time.Duration(secs * float64(time.Second))}
	return nil
}

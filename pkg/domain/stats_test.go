package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeLoanStatistics(t *testing.T) {
	payload := `{
		"total_loans": 3,
		"monthly_breakdown": [
			{"month": "2025-01-01T00:00:00Z", "total_loans": 2, "avg_loan_duration": "86400.0"},
			{"month": "2025-02-01T00:00:00Z", "total_loans": 1, "avg_loan_duration": null}
		],
		"overdue_loans": {"total_overdue": 1, "overdue_by_days": {"4": 1}},
		"user_statistics": [{"user__username": "ana", "user__email": "ana@example.com", "total_loans": 3, "overdue_loans": 1}]
	}`
	var stats LoanStatistics
	if err := json.Unmarshal([]byte(payload), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalLoans != 3 || len(stats.MonthlyBreakdown) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := stats.MonthlyBreakdown[0].AvgLoanDuration.Duration; got != 24*time.Hour {
		t.Fatalf("avg duration = %v", got)
	}
	if got := stats.MonthlyBreakdown[1].AvgLoanDuration.Duration; got != 0 {
		t.Fatalf("null avg duration = %v", got)
	}
	if stats.OverdueLoans.OverdueByDays["4"] != 1 || stats.UserStatistics[0].Username != "ana" {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}
}

func TestSecondsAcceptsBareNumber(t *testing.T) {
	var s Seconds
	if err := json.Unmarshal([]byte(`90.5`), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Duration != 90*time.Second+500*time.Millisecond {
		t.Fatalf("duration = %v", s.Duration)
	}
	out, err := json.Marshal(s)
	if err != nil || string(out) != `"90.5"` {
		t.Fatalf("marshal = %s, %v", out, err)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &s); err == nil {
		t.Fatalf("expected error for non-numeric seconds")
	}
}

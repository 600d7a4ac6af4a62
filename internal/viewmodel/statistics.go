package viewmodel

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"time"

	"librarydesk/pkg/domain"
	"librarydesk/pkg/lifecycle"
)

// Statistics summarizes the cached loans the same way the remote loan
// report does.
func (l *Loans) Statistics() domain.LoanStatistics {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return loanStatistics(l.loans, now)
}

// RemoteStatistics asks the remote service for its loan report.
func (l *Loans) RemoteStatistics(ctx context.Context) (domain.LoanStatistics, error) {
	return l.lib.LoanStatistics(ctx)
}

func loanStatistics(loans []domain.Loan, now time.Time) domain.LoanStatistics {
	stats := domain.LoanStatistics{
		TotalLoans:       len(loans),
		MonthlyBreakdown: []domain.MonthlyLoans{},
		OverdueLoans:     domain.OverdueStatistics{OverdueByDays: map[string]int{}},
		UserStatistics:   []domain.UserLoanStats{},
	}

	type month struct {
		loans    int
		returned int
		total    time.Duration
	}
	months := map[time.Time]*month{}
	users := map[int64]*domain.UserLoanStats{}
	today := domain.NewDate(now)

	for _, loan := range loans {
		y, m, _ := loan.LoanDate.UTC().Date()
		key := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		bucket := months[key]
		if bucket == nil {
			bucket = &month{}
			months[key] = bucket
		}
		bucket.loans++
		if loan.Returned && loan.ReturnedDate != nil {
			bucket.returned++
			bucket.total += loan.ReturnedDate.Sub(loan.LoanDate.Time)
		}

		user := users[loan.User.ID]
		if user == nil {
			user = &domain.UserLoanStats{Username: loan.User.Username, Email: loan.User.Email}
			users[loan.User.ID] = user
		}
		user.TotalLoans++

		if lifecycle.IsOverdue(loan, now) {
			days := int(today.Sub(loan.DueDate.Time).Hours() / 24)
			stats.OverdueLoans.TotalOverdue++
			stats.OverdueLoans.OverdueByDays[strconv.Itoa(days)]++
			user.OverdueLoans++
		}
	}

	for key, bucket := range months {
		entry := domain.MonthlyLoans{Month: domain.Timestamp{Time: key}, TotalLoans: bucket.loans}
		if bucket.returned > 0 {
			entry.AvgLoanDuration = domain.Seconds{Duration: bucket.total / time.Duration(bucket.returned)}
		}
		stats.MonthlyBreakdown = append(stats.MonthlyBreakdown, entry)
	}
	slices.SortFunc(stats.MonthlyBreakdown, func(a, b domain.MonthlyLoans) int {
		return a.Month.Compare(b.Month.Time)
	})

	for _, user := range users {
		stats.UserStatistics = append(stats.UserStatistics, *user)
	}
	slices.SortFunc(stats.UserStatistics, func(a, b domain.UserLoanStats) int {
		if c := cmp.Compare(b.TotalLoans, a.TotalLoans); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return stats
}

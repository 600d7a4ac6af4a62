package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"librarydesk/internal/viewmodel"
	"librarydesk/pkg/domain"
)

func loansCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "Manage loans",
	}

	var overdueOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List loans with overdue state and fine estimate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := viewmodel.NewLoans(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			rows := vm.Rows()
			if overdueOnly {
				filtered := rows[:0]
				for _, row := range rows {
					if row.Overdue {
						filtered = append(filtered, row)
					}
				}
				rows = filtered
			}
			return a.printLoanRows(rows)
		},
	}
	list.Flags().BoolVar(&overdueOnly, "overdue", false, "only open loans past their due date")

	var bookID, userID int64
	var due string
	create := &cobra.Command{
		Use:   "create",
		Short: "Loan an available book to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dueDate domain.Date
			if due != "" {
				d, err := domain.ParseDate(due)
				if err != nil {
					return err
				}
				dueDate = d
			}
			vm := viewmodel.NewLoans(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			loan, err := vm.Create(cmd.Context(), bookID, userID, dueDate)
			if loan.ID != 0 {
				fmt.Fprintf(a.out, "loan %d created: %q to %s, due %s\n", loan.ID, loan.Book.Title, loan.User.Username, loan.DueDate)
			}
			return err
		},
	}
	create.Flags().Int64Var(&bookID, "book", 0, "book id")
	create.Flags().Int64Var(&userID, "user", 0, "user id")
	create.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD (default: service term)")
	_ = create.MarkFlagRequired("book")
	_ = create.MarkFlagRequired("user")

	var damaged bool
	ret := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loaned book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := parseID(args[0])
			if err != nil {
				return err
			}
			vm := viewmodel.NewLoans(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			receipt, err := vm.Return(cmd.Context(), loanID, damaged)
			if receipt.Loan.ID != 0 {
				if a.json {
					if jerr := a.printJSON(receipt); jerr != nil {
						return jerr
					}
				} else {
					fmt.Fprintf(a.out, "loan %d returned, %d days late, fine %d\n", receipt.Loan.ID, receipt.DaysLate, receipt.FineAmount)
				}
			}
			return err
		},
	}
	ret.Flags().BoolVar(&damaged, "damaged", false, "mark the book damaged")

	audit := &cobra.Command{
		Use:   "audit",
		Short: "List books whose status disagrees with their open loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := viewmodel.NewLoans(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			return a.printBooks(vm.Inconsistent())
		},
	}

	options := &cobra.Command{
		Use:   "options",
		Short: "Show the users and available books a loan can be created for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := viewmodel.LoadLoanForm(cmd.Context(), a.client)
			if err != nil {
				return err
			}
			return a.printForm(form)
		},
	}

	var remote bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize loans by month, overdue age and user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := viewmodel.NewLoans(a.client)
			if remote {
				report, err := vm.RemoteStatistics(cmd.Context())
				if err != nil {
					return err
				}
				return a.printStatistics(report)
			}
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			return a.printStatistics(vm.Statistics())
		},
	}
	stats.Flags().BoolVar(&remote, "remote", false, "use the service's /loans/statistics/ report instead of the loaded loans")

	cmd.AddCommand(list, create, ret, audit, options, stats)
	return cmd
}

func reservationsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "Manage reservations on borrowed books",
	}

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if activeOnly {
				items, err := a.client.ListActiveReservations(cmd.Context())
				if err != nil {
					return err
				}
				return a.printReservations(items)
			}
			vm := viewmodel.NewReservations(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			return a.printReservations(vm.Items())
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active reservations")

	var bookID, userID int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Reserve a borrowed book for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := viewmodel.NewReservations(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			res, err := vm.Create(cmd.Context(), bookID, userID)
			if res.Active {
				fmt.Fprintf(a.out, "reservation created: %q for user %d\n", res.Book.Title, userID)
			}
			return err
		},
	}
	create.Flags().Int64Var(&bookID, "book", 0, "book id")
	create.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = create.MarkFlagRequired("book")
	_ = create.MarkFlagRequired("user")

	cancel := &cobra.Command{
		Use:   "cancel <reservation-id>",
		Short: "Cancel an active reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			vm := viewmodel.NewReservations(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			res, err := vm.Cancel(cmd.Context(), id)
			if res.ID != 0 {
				fmt.Fprintf(a.out, "reservation %d cancelled\n", res.ID)
			}
			return err
		},
	}

	options := &cobra.Command{
		Use:   "options",
		Short: "Show the users and borrowed books a reservation can be created for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := viewmodel.LoadReservationForm(cmd.Context(), a.client)
			if err != nil {
				return err
			}
			return a.printForm(form)
		},
	}

	cmd.AddCommand(list, create, cancel, options)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func (a *app) printLoanRows(rows []viewmodel.LoanRow) error {
	if a.json {
		if rows == nil {
			rows = []viewmodel.LoanRow{}
		}
		return a.printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.errOut, "no loans found")
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID\tBOOK\tUSER\tDUE\tSTATE\tDAYS LATE\tFINE\n")
	for _, row := range rows {
		state := "open"
		switch {
		case row.Returned:
			state = "returned"
		case row.Overdue:
			state = "overdue"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n", row.ID, row.Book.Title, row.User.Username, row.DueDate, state, row.DaysLate, row.Fine)
	}
	return w.Flush()
}

func (a *app) printReservations(items []domain.Reservation) error {
	if a.json {
		if items == nil {
			items = []domain.Reservation{}
		}
		return a.printJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(a.errOut, "no reservations found")
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID\tBOOK\tUSER\tRESERVED\tACTIVE\n")
	for _, res := range items {
		reserved := ""
		if !res.ReservationDate.IsZero() {
			reserved = res.ReservationDate.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", res.ID, res.Book.Title, res.User.Username, reserved, res.Active)
	}
	return w.Flush()
}

func (a *app) printForm(form viewmodel.FormData) error {
	if a.json {
		return a.printJSON(form)
	}
	if err := a.printUsers(form.Users); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	return a.printBooks(form.Books)
}

func (a *app) printStatistics(stats domain.LoanStatistics) error {
	if a.json {
		return a.printJSON(stats)
	}
	fmt.Fprintf(a.out, "loans: %d  overdue: %d\n\n", stats.TotalLoans, stats.OverdueLoans.TotalOverdue)
	w := a.table()
	fmt.Fprintf(w, "MONTH\tLOANS\tAVG DURATION\n")
	for _, m := range stats.MonthlyBreakdown {
		avg := "-"
		if m.AvgLoanDuration.Duration > 0 {
			avg = m.AvgLoanDuration.Round(time.Hour).String()
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", m.Month.Format("2006-01"), m.TotalLoans, avg)
	}
	fmt.Fprintf(w, "\nUSER\tLOANS\tOVERDUE\n")
	for _, u := range stats.UserStatistics {
		fmt.Fprintf(w, "%s\t%d\t%d\n", u.Username, u.TotalLoans, u.OverdueLoans)
	}
	return w.Flush()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"librarydesk/internal/libraryclient"
	"librarydesk/internal/viewmodel"
	"librarydesk/pkg/domain"
)

func booksCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Browse the book catalogue",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := viewmodel.NewBooks(a.client)
			if err := vm.Load(cmd.Context()); err != nil {
				return err
			}
			books := vm.Items()
			if status != "" {
				s := domain.BookStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				books = vm.WithStatus(s)
			}
			return a.printBooks(books)
		},
	}
	list.Flags().StringVar(&status, "status", "", "only books in this status (available, borrowed, lost, damaged)")

	var field string
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search books by title, author, genre or code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := libraryclient.ParseSearchField(field)
			if err != nil {
				return err
			}
			books, err := viewmodel.NewBooks(a.client).Search(cmd.Context(), f, args[0])
			if err != nil {
				return err
			}
			return a.printBooks(books)
		},
	}
	search.Flags().StringVar(&field, "field", "all", "title, author, genre, code or all")

	cmd.AddCommand(list, search)
	return cmd
}

func usersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Browse library users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return a.printUsers(users)
		},
	})
	return cmd
}

func (a *app) printBooks(books []domain.Book) error {
	if a.json {
		if books == nil {
			books = []domain.Book{}
		}
		return a.printJSON(books)
	}
	if len(books) == 0 {
		fmt.Fprintln(a.errOut, "no books found")
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID\tCODE\tTITLE\tAUTHOR\tGENRE\tSTATUS\n")
	for _, b := range books {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Code, b.Title, b.Author, b.Genre, b.Status)
	}
	return w.Flush()
}

func (a *app) printUsers(users []domain.User) error {
	if a.json {
		if users == nil {
			users = []domain.User{}
		}
		return a.printJSON(users)
	}
	if len(users) == 0 {
		fmt.Fprintln(a.errOut, "no users found")
		return nil
	}
	w := a.table()
	fmt.Fprintf(w, "ID\tUSERNAME\tNAME\tEMAIL\n")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.FullName(), u.Email)
	}
	return w.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"librarydesk/internal/session"
	"librarydesk/internal/viewmodel"
	"librarydesk/pkg/lifecycle"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	root, a := newRootCommand()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(exitCode(err))
	}
}

// describeError turns the error taxonomy into operator-facing text.
func describeError(err error) string {
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		return "not logged in, run `librarydesk login`"
	case errors.Is(err, session.ErrSessionExpired):
		return "session expired, run `librarydesk login` again"
	case errors.Is(err, session.ErrLoginThrottled):
		return "login failed: too many attempts, try again in a minute"
	case errors.Is(err, session.ErrAuthenticationFailed):
		var apiErr *session.APIError
		if errors.As(err, &apiErr) {
			return "login failed: " + apiErr.Message
		}
		if errors.Is(err, session.ErrTransportFailure) {
			return "login failed: service unreachable"
		}
		return err.Error()
	case errors.Is(err, viewmodel.ErrStale):
		return "change saved, but the list could not be refreshed: " + err.Error()
	case errors.Is(err, lifecycle.ErrBookUnavailable),
		errors.Is(err, lifecycle.ErrInvalidReservation),
		errors.Is(err, lifecycle.ErrLoanReturned),
		errors.Is(err, lifecycle.ErrReservationInactive),
		errors.Is(err, lifecycle.ErrLoanLimitReached),
		errors.Is(err, lifecycle.ErrDueDateInPast),
		errors.Is(err, lifecycle.ErrDuplicateReservation):
		return "not allowed: " + err.Error()
	case errors.Is(err, session.ErrRemoteRejected):
		return "rejected by library service: " + err.Error()
	case errors.Is(err, session.ErrTransportFailure):
		return "library service unreachable: " + err.Error()
	}
	return err.Error()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, session.ErrUnauthenticated),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrAuthenticationFailed):
		return 2
	case errors.Is(err, viewmodel.ErrStale):
		return 3
	}
	return 1
}

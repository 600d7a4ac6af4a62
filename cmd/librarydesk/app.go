package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"librarydesk/internal/config"
	"librarydesk/internal/credstore"
	"librarydesk/internal/libraryclient"
	"librarydesk/internal/ratelimit"
	"librarydesk/internal/session"
	"librarydesk/internal/util"
	"librarydesk/pkg/lifecycle"
)

type globalFlags struct {
	configPath string
	apiURL     string
	profile    string
	store      string
	logLevel   string
	json       bool
}

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	cfg     config.FileConfig
	store   credstore.Store
	session *session.Manager
	client  *libraryclient.Client
	out     io.Writer
	errOut  io.Writer
	json    bool

	closers []io.Closer
}

// newRootCommand builds the command tree. The returned app must be closed
// once Execute returns.
func newRootCommand() (*cobra.Command, *app) {
	var flags globalFlags
	a := &app{}
	root := &cobra.Command{
		Use:           "librarydesk",
		Short:         "Staff client for the library circulation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, flags)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default: user config dir/librarydesk/config.yaml)")
	pf.StringVar(&flags.apiURL, "api-url", "", "library API base URL")
	pf.StringVar(&flags.profile, "profile", "", "credential profile")
	pf.StringVar(&flags.store, "credential-store", "", "credential store: memory, file, sqlite, redis or postgres")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&flags.json, "json", false, "output as JSON instead of a table")

	root.AddCommand(
		loginCommand(a),
		logoutCommand(a),
		statusCommand(a),
		booksCommand(a),
		usersCommand(a),
		loansCommand(a),
		reservationsCommand(a),
	)
	return root, a
}

func (a *app) init(cmd *cobra.Command, flags globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.apiURL != "" {
		cfg.APIBaseURL = flags.apiURL
	}
	if flags.profile != "" {
		cfg.Profile = flags.profile
	}
	if flags.store != "" {
		cfg.CredentialStore = flags.store
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()
	a.json = flags.json

	logger := util.InitLoggerTo(a.errOut, cfg.LogLevel)
	durations, err := cfg.Durations()
	if err != nil {
		return err
	}

	store, err := credstore.Open(credstore.Options{
		Kind:          cfg.CredentialStore,
		Profile:       cfg.Profile,
		FilePath:      cfg.CredentialFile,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		DatabaseURL:   cfg.DatabaseURL,
	})
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, closerFunc(func() error { return credstore.Close(store) }))

	var limiter session.LoginLimiter
	if cfg.LoginAttemptsPerMinute > 0 {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "librarydesk:login", cfg.LoginAttemptsPerMinute, time.Minute)
		if err != nil {
			return err
		}
		limiter = l
		a.closers = append(a.closers, l)
	}

	mgr, err := session.New(session.Config{
		BaseURL:         cfg.APIBaseURL,
		Store:           store,
		Timeout:         durations.RequestTimeout,
		AccessTTL:       durations.AccessTokenTTL,
		RefreshTTL:      durations.RefreshTokenTTL,
		RefreshAttempts: cfg.RefreshAttempts,
		RefreshBackoff:  durations.RefreshBackoff,
		OnLogout: func(reason session.LogoutReason) {
			logger.Info("session.logout", "reason", string(reason), "profile", cfg.Profile)
		},
		LoginLimiter: limiter,
	})
	if err != nil {
		return err
	}
	a.session = mgr
	a.client = libraryclient.NewClient(mgr, lifecycle.Rules{
		MaxOpenLoans: cfg.MaxLoansPerUser,
		FinePerDay:   cfg.FinePerDay,
		GraceDays:    cfg.FineGraceDays,
	})
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// close releases the connections opened by init, newest first.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 2, 0, 3, ' ', 0)
}

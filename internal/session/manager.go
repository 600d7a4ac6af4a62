// Package session keeps a bearer credential valid across API calls. It
// attaches the stored access token to each call, refreshes it once when the
// remote service answers 401, and ends the session when the refresh fails.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"librarydesk/internal/credstore"
	"librarydesk/internal/util"
	"librarydesk/pkg/domain"
)

const (
	loginPath   = "/token/"
	refreshPath = "/token/refresh/"

	maxErrorBody = 64 << 10
)

// LogoutReason tells the consumer why the session ended.
type LogoutReason string

const (
	LogoutRequested LogoutReason = "requested"
	LogoutExpired   LogoutReason = "expired"
)

// LoginLimiter counts login attempts per account.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config wires the manager's collaborators.
type Config struct {
	BaseURL    string
	Store      credstore.Store
	HTTPClient *http.Client
	// Timeout applies to the default HTTP client only.
	Timeout time.Duration
	// AccessTTL and RefreshTTL are expiry hints used when tokens carry no exp claim.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RefreshAttempts bounds retries of the refresh endpoint on transport or 5xx failures.
	RefreshAttempts int
	RefreshBackoff  time.Duration
	// OnLogout is called after credentials are cleared, both on explicit
	// logout and on session expiry. Consumers navigate to their entry point.
	OnLogout func(LogoutReason)
	// LoginLimiter is optional; a limiter error blocks the attempt.
	LoginLimiter LoginLimiter
	Now          func() time.Time
}

// Manager owns one client session. It is safe for concurrent use.
type Manager struct {
	baseURL         string
	httpClient      *http.Client
	store           credstore.Store
	accessTTL       time.Duration
	refreshTTL      time.Duration
	refreshAttempts int
	refreshBackoff  time.Duration
	onLogout        func(LogoutReason)
	loginLimiter    LoginLimiter
	now             func() time.Time

	refreshes singleflight.Group

	// mu serializes credential writes; generation counts logins, logouts and
	// expiries so a refresh started before one of them never writes back.
	mu         sync.Mutex
	generation uint64
}

// New constructs a session manager.
func New(cfg Config) (*Manager, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("session: base URL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: credential store is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: util.NewLoggingTransport("librarydesk", nil),
		}
	}
	m := &Manager{
		baseURL:         baseURL,
		httpClient:      httpClient,
		store:           cfg.Store,
		accessTTL:       cfg.AccessTTL,
		refreshTTL:      cfg.RefreshTTL,
		refreshAttempts: cfg.RefreshAttempts,
		refreshBackoff:  cfg.RefreshBackoff,
		onLogout:        cfg.OnLogout,
		loginLimiter:    cfg.LoginLimiter,
		now:             cfg.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = 7 * 24 * time.Hour
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 30 * 24 * time.Hour
	}
	if m.refreshAttempts <= 0 {
		m.refreshAttempts = 3
	}
	if m.refreshBackoff < 0 {
		m.refreshBackoff = 0
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Call sends req with the stored access token and decodes the JSON response
// into out (which may be nil). A 401 triggers one refresh and one retry.
func (m *Manager) Call(ctx context.Context, req Request, out any) error {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	creds, ok, err := m.store.Get()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !ok || creds.AccessToken == "" {
		return ErrUnauthenticated
	}

	ctx = util.EnsureRequestID(ctx)
	err = m.dispatch(ctx, req, payload, creds.AccessToken, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Unauthorized() || Retried(ctx) {
		return err
	}

	access, err := m.refresh(ctx, creds.AccessToken)
	if err != nil {
		return err
	}
	return m.dispatch(withRetried(ctx), req, payload, access, out)
}

// Login exchanges username and password for a fresh credential pair. Stored
// credentials are left untouched on failure.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrAuthenticationFailed)
	}
	ctx = util.EnsureRequestID(ctx)
	logger := util.LoggerFromContext(ctx)

	if m.loginLimiter != nil {
		allowed, err := m.loginLimiter.Allow(ctx, username)
		if err != nil {
			logger.Error("session.login", "result", "throttle_unavailable", "username", username, "err", err)
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		if !allowed {
			logger.Warn("session.login", "result", "throttled", "username", username)
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrLoginThrottled)
		}
	}

	payload, err := encodeBody(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	var resp tokenResponse
	if err := m.dispatch(ctx, Request{Method: http.MethodPost, Path: loginPath}, payload, "", &resp); err != nil {
		logger.Warn("session.login", "result", "fail", "username", username, "err", err)
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if resp.Access == "" || resp.Refresh == "" {
		logger.Warn("session.login", "result", "fail", "username", username, "reason", "incomplete_token_response")
		return fmt.Errorf("%w: incomplete token response", ErrAuthenticationFailed)
	}

	now := m.now()
	creds := domain.Credentials{
		AccessToken:      resp.Access,
		RefreshToken:     resp.Refresh,
		AccessExpiresAt:  tokenExpiry(resp.Access, m.accessTTL, now),
		RefreshExpiresAt: tokenExpiry(resp.Refresh, m.refreshTTL, now),
	}
	m.mu.Lock()
	err = m.store.Set(creds)
	m.generation++
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	logger.Info("session.login", "result", "success", "username", username)
	return nil
}

// Logout clears stored credentials and signals the consumer. Idempotent.
func (m *Manager) Logout() error {
	m.mu.Lock()
	err := m.store.Clear()
	m.generation++
	m.mu.Unlock()
	m.signal(LogoutRequested)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Restore reports whether a session persisted by an earlier process can be
// resumed. A pair whose refresh token is past its expiry hint is discarded.
func (m *Manager) Restore() (bool, error) {
	creds, ok, err := m.store.Get()
	if err != nil {
		return false, fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !creds.RefreshExpiresAt.IsZero() && !m.now().Before(creds.RefreshExpiresAt) {
		m.mu.Lock()
		err := m.store.Clear()
		m.generation++
		m.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("clear stale credentials: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// refresh returns an access token newer than stale. Concurrent callers that
// observed the same stale token share one refresh round-trip.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := m.refreshes.Do(stale, func() (any, error) {
		// The refresh outlives any single caller; the HTTP timeout bounds it.
		return m.refreshShared(context.WithoutCancel(ctx), stale)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refreshShared(ctx context.Context, stale string) (string, error) {
	m.mu.Lock()
	gen := m.generation
	creds, ok, err := m.store.Get()
	m.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return "", ErrSessionExpired
	}
	if creds.AccessToken != stale {
		// Another caller already refreshed.
		return creds.AccessToken, nil
	}

	access, rotated, err := m.requestRefresh(ctx, creds.RefreshToken)

	m.mu.Lock()
	if m.generation != gen {
		// Logged in or out while the refresh was in flight.
		current, ok, getErr := m.store.Get()
		m.mu.Unlock()
		util.LoggerFromContext(ctx).Info("session.refresh", "result", "superseded")
		if getErr != nil {
			return "", fmt.Errorf("load credentials: %w", getErr)
		}
		if !ok || current.AccessToken == stale {
			return "", ErrSessionExpired
		}
		return current.AccessToken, nil
	}
	if err != nil {
		clearErr := m.store.Clear()
		m.generation++
		m.mu.Unlock()
		m.expire(ctx, err, clearErr)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	now := m.now()
	creds.AccessToken = access
	creds.AccessExpiresAt = tokenExpiry(access, m.accessTTL, now)
	if rotated != "" {
		creds.RefreshToken = rotated
		creds.RefreshExpiresAt = tokenExpiry(rotated, m.refreshTTL, now)
	}
	err = m.store.Set(creds)
	m.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("store refreshed credentials: %w", err)
	}
	util.LoggerFromContext(ctx).Info("session.refresh", "result", "success", "rotated", rotated != "")
	return access, nil
}

func (m *Manager) requestRefresh(ctx context.Context, refreshToken string) (string, string, error) {
	payload, err := encodeBody(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", "", err
	}
	req := Request{Method: http.MethodPost, Path: refreshPath}
	var lastErr error
	for attempt := 1; attempt <= m.refreshAttempts; attempt++ {
		var resp tokenResponse
		err := m.dispatch(ctx, req, payload, "", &resp)
		if err == nil {
			if resp.Access == "" {
				return "", "", errors.New("refresh response missing access token")
			}
			return resp.Access, resp.Refresh, nil
		}
		lastErr = err
		if !retryableRefreshError(err) {
			return "", "", err
		}
		util.LoggerFromContext(ctx).Warn("session.refresh", "result", "retry", "attempt", attempt, "err", err)
		if attempt < m.refreshAttempts {
			if err := sleepContext(ctx, m.refreshBackoff*time.Duration(attempt)); err != nil {
				return "", "", err
			}
		}
	}
	return "", "", fmt.Errorf("refresh unreachable after %d attempts: %w", m.refreshAttempts, lastErr)
}

func (m *Manager) expire(ctx context.Context, cause, clearErr error) {
	logger := util.LoggerFromContext(ctx)
	if clearErr != nil {
		logger.Error("session.expired", "reason", "clear_failed", "err", clearErr)
	}
	logger.Warn("session.expired", "err", cause)
	m.signal(LogoutExpired)
}

func (m *Manager) signal(reason LogoutReason) {
	if m.onLogout != nil {
		m.onLogout(reason)
	}
}

func (m *Manager) dispatch(ctx context.Context, req Request, payload []byte, token string, out any) error {
	target := m.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
			Code   string `json:"code"`
		}
		_ = json.Unmarshal(data, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Detail
		}
		if msg == "" {
			if raw := strings.TrimSpace(string(data)); raw != "" && len(raw) <= 200 {
				msg = raw
			}
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

func retryableRefreshError(err error) bool {
	if errors.Is(err, ErrTransportFailure) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

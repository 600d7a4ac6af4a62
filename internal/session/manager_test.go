package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"librarydesk/internal/credstore"
	"librarydesk/pkg/domain"
)

func seededStore(t *testing.T, access, refresh string) *credstore.MemoryStore {
	t.Helper()
	store := credstore.NewMemoryStore()
	if err := store.Set(domain.Credentials{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func newTestManager(t *testing.T, srv *httptest.Server, store credstore.Store, onLogout func(LogoutReason)) *Manager {
	t.Helper()
	m, err := New(Config{
		BaseURL:         srv.URL,
		Store:           store,
		RefreshAttempts: 3,
		OnLogout:        onLogout,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// barrier holds requests until n have arrived so that concurrent callers all
// observe the expired token before any refresh completes.
type barrier struct {
	mu      sync.Mutex
	n       int
	seen    int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	b.seen++
	if b.seen == b.n {
		close(b.release)
	}
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	}
}

func TestConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	gate := newBarrier(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshes.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["refresh"] != "R" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "bad refresh"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"access": "B"})
		case "/books/":
			switch r.Header.Get("Authorization") {
			case "Bearer A":
				gate.wait()
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired", "code": "token_not_valid"})
			case "Bearer B":
				writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "title": "Dune", "status": "available"}})
			default:
				w.WriteHeader(http.StatusForbidden)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	results := make([][]domain.Book, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, &results[i])
		}(i)
	}
	wg.Wait()

	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if len(results[i]) != 1 || results[i][0].Title != "Dune" {
			t.Fatalf("call %d result = %+v", i, results[i])
		}
	}
	creds, ok, _ := store.Get()
	if !ok || creds.AccessToken != "B" || creds.RefreshToken != "R" {
		t.Fatalf("expected refreshed access with unrotated refresh, got %+v", creds)
	}
}

func TestInvalidRefreshExpiresSessionOnce(t *testing.T) {
	var refreshes, dataCalls atomic.Int32
	gate := newBarrier(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshes.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is blacklisted", "code": "token_not_valid"})
		default:
			dataCalls.Add(1)
			gate.wait()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		}
	}))
	defer srv.Close()

	var logouts []LogoutReason
	var mu sync.Mutex
	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, func(reason LogoutReason) {
		mu.Lock()
		logouts = append(logouts, reason)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/loans/"}, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("call %d: expected session expired, got %v", i, err)
		}
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected one refresh attempt, got %d", got)
	}
	if got := dataCalls.Load(); got != 3 {
		t.Fatalf("expected no retries after failed refresh, got %d data calls", got)
	}
	if _, ok, _ := store.Get(); ok {
		t.Fatalf("expected credentials cleared")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(logouts) != 1 || logouts[0] != LogoutExpired {
		t.Fatalf("expected one expiry signal, got %v", logouts)
	}
}

func TestCallWithoutCredentialsSendsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, credstore.NewMemoryStore(), nil)
	err := m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request, got %d", hits.Load())
	}
}

func TestRetriedCallIsNotRefreshedAgain(t *testing.T) {
	var refreshes, dataCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "B", "refresh": "R2"})
			return
		}
		dataCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "still unauthorized"})
	}))
	defer srv.Close()

	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, nil)
	err := m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/users/"}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
	if apiErr.Message != "still unauthorized" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	if refreshes.Load() != 1 || dataCalls.Load() != 2 {
		t.Fatalf("refreshes=%d dataCalls=%d, want 1 and 2", refreshes.Load(), dataCalls.Load())
	}
	creds, _, _ := store.Get()
	if creds.AccessToken != "B" || creds.RefreshToken != "R2" {
		t.Fatalf("expected rotated pair, got %+v", creds)
	}
}

func TestNonAuthFailuresSurfaceUnchanged(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshes.Add(1)
		case "/loans/":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Book is not available"})
		case "/broken/":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, nil)

	err := m.Call(context.Background(), Request{Method: http.MethodPost, Path: "/loans/", Body: map[string]int{"book_id": 1}}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "Book is not available" {
		t.Fatalf("expected 400 api error, got %v", err)
	}
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("expected remote rejected match")
	}

	err = m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/broken/"}, nil)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError || apiErr.Message == "" {
		t.Fatalf("expected 500 api error with status text, got %v", err)
	}

	srv.Close()
	err = m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, nil)
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatalf("transport failure must not expire the session")
	}
	if refreshes.Load() != 0 {
		t.Fatalf("expected no refresh, got %d", refreshes.Load())
	}
	if _, ok, _ := store.Get(); !ok {
		t.Fatalf("credentials must survive non-auth failures")
	}
}

func TestRefreshRetriesServerFailures(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			if refreshes.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"access": "B"})
			return
		}
		if r.Header.Get("Authorization") == "Bearer B" {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, seededStore(t, "A", "R"), nil)
	if err := m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if refreshes.Load() != 3 {
		t.Fatalf("expected 3 refresh attempts, got %d", refreshes.Load())
	}
}

func TestRetryKeepsRequestID(t *testing.T) {
	var mu sync.Mutex
	ids := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "B"})
			return
		}
		mu.Lock()
		ids[r.Header.Get("Authorization")] = r.Header.Get("X-Request-Id")
		mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer A" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newTestManager(t, srv, seededStore(t, "A", "R"), nil)
	if err := m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if ids["Bearer A"] == "" || ids["Bearer A"] != ids["Bearer B"] {
		t.Fatalf("expected shared request id, got %v", ids)
	}
}

func TestLogin(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/token/" || body["password"] != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": "opaque-refresh"})
	}))
	defer srv.Close()

	store := seededStore(t, "old-access", "old-refresh")
	m := newTestManager(t, srv, store, nil)

	err = m.Login(context.Background(), "ana", "wrong")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	creds, _, _ := store.Get()
	if creds.AccessToken != "old-access" || creds.RefreshToken != "old-refresh" {
		t.Fatalf("failed login must not touch store, got %+v", creds)
	}
	if err := m.Login(context.Background(), " ", "pw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected failure for blank username, got %v", err)
	}

	if err := m.Login(context.Background(), "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	creds, ok, _ := store.Get()
	if !ok || creds.AccessToken != access || creds.RefreshToken != "opaque-refresh" {
		t.Fatalf("unexpected stored creds: %+v", creds)
	}
	if !creds.AccessExpiresAt.Equal(exp.UTC()) {
		t.Fatalf("access expiry = %v, want %v", creds.AccessExpiresAt, exp.UTC())
	}
	if creds.RefreshExpiresAt.Before(time.Now().Add(29 * 24 * time.Hour)) {
		t.Fatalf("refresh expiry should fall back to configured ttl, got %v", creds.RefreshExpiresAt)
	}
}

func TestLogoutAndRestore(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var reasons []LogoutReason
	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, func(r LogoutReason) { reasons = append(reasons, r) })

	ok, err := m.Restore()
	if err != nil || !ok {
		t.Fatalf("restore = %v, %v", ok, err)
	}
	if err := m.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := m.Logout(); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if ok, _ := m.Restore(); ok {
		t.Fatalf("expected no session after logout")
	}
	if len(reasons) != 2 || reasons[0] != LogoutRequested {
		t.Fatalf("reasons = %v", reasons)
	}

	if err := store.Set(domain.Credentials{
		AccessToken:      "A",
		RefreshToken:     "R",
		RefreshExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, _ := m.Restore(); ok {
		t.Fatalf("expected stale refresh to be discarded")
	}
	if _, ok, _ := store.Get(); ok {
		t.Fatalf("expected stale credentials cleared")
	}
}

type countingLimiter struct {
	allowed int
	calls   int
	err     error
}

func (l *countingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= l.allowed, nil
}

func TestLoginThrottle(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "bad credentials"})
	}))
	defer srv.Close()

	limiter := &countingLimiter{allowed: 1}
	m, err := New(Config{BaseURL: srv.URL, Store: credstore.NewMemoryStore(), LoginLimiter: limiter})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Login(context.Background(), "ana", "x"); errors.Is(err, ErrLoginThrottled) {
		t.Fatalf("first attempt must not be throttled")
	}
	err = m.Login(context.Background(), "ana", "x")
	if !errors.Is(err, ErrLoginThrottled) || !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected throttled authentication failure, got %v", err)
	}
	if logins.Load() != 1 {
		t.Fatalf("throttled attempt must not reach the service, got %d logins", logins.Load())
	}

	limiter.err = errors.New("redis down")
	if err := m.Login(context.Background(), "ana", "x"); !errors.Is(err, ErrAuthenticationFailed) || logins.Load() != 1 {
		t.Fatalf("limiter failure should block login, got %v", err)
	}
}

// blockingRefreshServer answers /books/ with 401 for "Bearer A" and holds
// /token/refresh/ until release is closed.
func blockingRefreshServer(t *testing.T, started chan<- struct{}, release <-chan struct{}) *httptest.Server {
	t.Helper()
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/":
			writeJSON(w, http.StatusOK, map[string]string{"access": "L", "refresh": "RL"})
		case "/token/refresh/":
			once.Do(func() { close(started) })
			<-release
			writeJSON(w, http.StatusOK, map[string]string{"access": "B"})
		case "/books/":
			switch r.Header.Get("Authorization") {
			case "Bearer B", "Bearer L":
				writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "title": "Dune", "status": "available"}})
			default:
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLogoutDuringRefreshStaysLoggedOut(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := blockingRefreshServer(t, started, release)

	var mu sync.Mutex
	var reasons []LogoutReason
	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, func(r LogoutReason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		var books []domain.Book
		done <- m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, &books)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh never started")
	}
	if err := m.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("call after logout: expected ErrSessionExpired, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call did not finish")
	}
	if creds, ok, _ := store.Get(); ok {
		t.Fatalf("logout was undone by the refresh: %+v", creds)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != LogoutRequested {
		t.Fatalf("reasons = %v, want only %q", reasons, LogoutRequested)
	}
}

func TestLoginDuringRefreshKeepsNewSession(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := blockingRefreshServer(t, started, release)

	store := seededStore(t, "A", "R")
	m := newTestManager(t, srv, store, nil)

	done := make(chan error, 1)
	var books []domain.Book
	go func() {
		done <- m.Call(context.Background(), Request{Method: http.MethodGet, Path: "/books/"}, &books)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh never started")
	}
	if err := m.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("call should retry with the new session: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call did not finish")
	}
	if len(books) != 1 {
		t.Fatalf("books = %+v", books)
	}
	creds, ok, _ := store.Get()
	if !ok || creds.AccessToken != "L" || creds.RefreshToken != "RL" {
		t.Fatalf("login credentials overwritten by refresh: %+v", creds)
	}
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/ender-auth/internal/api"
	"github.com/isdelr/ender-auth/internal/database"
	"github.com/isdelr/ender-auth/internal/models"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ---- helpers ----

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	events := services.NewEventService(db)
	authService := services.NewAuthService(
		services.NewUserService(db, bcrypt.MinCost),
		services.NewTokenService(db, 0),
		events,
		services.AuthOptions{},
	)
	srv := httptest.NewServer(api.NewRouter(authService, events, api.Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func newSession(t *testing.T, baseURL string, storage TokenStorage) (*Session, *APIClient) {
	t.Helper()
	apiClient := NewAPIClient(baseURL, nil)
	s, err := NewSession(context.Background(), apiClient, storage)
	require.NoError(t, err)
	return s, apiClient
}

// ---- fake api ----

type fakeAPI struct {
	mu        sync.Mutex
	token     string
	meCalls   int
	meRelease chan struct{}
	meUser    models.UserResource
	meErr     error
	logoutErr error
	loggedOut []string
	// onSetToken runs once, before the first non-empty token is set.
	onSetToken func()
}

func (f *fakeAPI) SetToken(token string) {
	f.mu.Lock()
	hook := f.onSetToken
	if token != "" {
		f.onSetToken = nil
	}
	f.mu.Unlock()
	if hook != nil && token != "" {
		hook()
	}
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeAPI) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}
func (f *fakeAPI) ClearToken()           { f.SetToken("") }

func (f *fakeAPI) Login(context.Context, string, string, string) (models.AuthResponse, error) {
	return models.AuthResponse{Token: "login-token", User: models.UserResource{ID: "u-login"}}, nil
}

func (f *fakeAPI) Register(context.Context, string, string, string, string) (models.AuthResponse, error) {
	return models.AuthResponse{}, errors.New("not used")
}

func (f *fakeAPI) Me(ctx context.Context) (models.UserResource, error) {
	f.mu.Lock()
	f.meCalls++
	release := f.meRelease
	user, err := f.meUser, f.meErr
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return user, err
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, token)
	return f.logoutErr
}

// ---- tests ----

func TestSessionLoginStoresTokenAndUser(t *testing.T) {
	srv := startServer(t)
	storage := &MemoryStorage{}
	s, apiClient := newSession(t, srv.URL, storage)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "Ada", "ada@x.com", "secret123", "secret123"))
	require.NoError(t, s.Logout(ctx))

	require.NoError(t, s.Login(ctx, "ada@x.com", "secret123"))
	require.NotEmpty(t, s.Token())
	require.NotNil(t, s.User())
	assert.Equal(t, "Ada", s.User().Name)
	assert.Equal(t, s.Token(), apiClient.Token())

	stored, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Token(), stored)
}

func TestSessionLoginPropagatesAPIError(t *testing.T) {
	srv := startServer(t)
	s, _ := newSession(t, srv.URL, &MemoryStorage{})

	err := s.Login(context.Background(), "ghost@x.com", "secret123")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
}

func TestSessionRegisterValidationError(t *testing.T) {
	srv := startServer(t)
	s, _ := newSession(t, srv.URL, &MemoryStorage{})

	err := s.Register(context.Background(), "Ada", "ada@x.com", "secret123", "different")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Errors, "password")
}

func TestSessionRestoresTokenAndFetchesUser(t *testing.T) {
	srv := startServer(t)
	storage := &MemoryStorage{}
	ctx := context.Background()

	first, _ := newSession(t, srv.URL, storage)
	require.NoError(t, first.Register(ctx, "Ada", "ada@x.com", "secret123", "secret123"))

	// A fresh session plays the role of a page reload.
	reloaded, apiClient := newSession(t, srv.URL, storage)
	assert.Equal(t, first.Token(), reloaded.Token())
	assert.Nil(t, reloaded.User())
	assert.Empty(t, apiClient.Token())

	require.NoError(t, reloaded.FetchUser(ctx))
	require.NotNil(t, reloaded.User())
	assert.Equal(t, "ada@x.com", reloaded.User().Email)
	assert.Equal(t, reloaded.Token(), apiClient.Token())
}

func TestFetchUserWithoutTokenIsNoop(t *testing.T) {
	f := &fakeAPI{}
	s, err := NewSession(context.Background(), f, &MemoryStorage{})
	require.NoError(t, err)

	require.NoError(t, s.FetchUser(context.Background()))
	assert.Zero(t, f.meCalls)
}

func TestFetchUserFailureKeepsToken(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save(context.Background(), "revoked"))
	f := &fakeAPI{meErr: &APIError{Status: http.StatusUnauthorized, Message: "Unauthenticated."}}

	s, err := NewSession(context.Background(), f, storage)
	require.NoError(t, err)

	err = s.FetchUser(context.Background())
	require.True(t, IsUnauthorized(err))
	assert.Equal(t, "revoked", s.Token())
	assert.Nil(t, s.User())
}

func TestFetchUserDiscardsSupersededResult(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save(context.Background(), "stored"))
	f := &fakeAPI{meRelease: make(chan struct{}), meUser: models.UserResource{ID: "u-stale"}}

	s, err := NewSession(context.Background(), f, storage)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.FetchUser(context.Background()) }()

	// Wait until the fetch is in flight, then log in on top of it.
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.meCalls == 1
	}, testTimeout, testTick)
	require.NoError(t, s.Login(context.Background(), "ada@x.com", "secret123"))

	close(f.meRelease)
	require.ErrorIs(t, <-done, ErrStaleFetch)
	assert.Equal(t, "u-login", s.User().ID)
}

func TestFetchUserCancelledContext(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save(context.Background(), "stored"))
	f := &fakeAPI{meUser: models.UserResource{ID: "u-1"}}
	s, err := NewSession(context.Background(), f, storage)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.FetchUser(ctx), context.Canceled)
	assert.Nil(t, s.User())
}

func TestLogoutRevokesServerToken(t *testing.T) {
	srv := startServer(t)
	storage := &MemoryStorage{}
	s, apiClient := newSession(t, srv.URL, storage)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "Ada", "ada@x.com", "secret123", "secret123"))
	token := s.Token()

	require.NoError(t, s.Logout(ctx))
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	assert.Empty(t, apiClient.Token())
	stored, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	// The revoked token no longer authenticates.
	apiClient.SetToken(token)
	_, err = apiClient.Me(ctx)
	assert.True(t, IsUnauthorized(err))
}

func TestLogoutWithUnreachableServer(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save(context.Background(), "held"))
	f := &fakeAPI{logoutErr: errors.New("connection refused")}
	s, err := NewSession(context.Background(), f, storage)
	require.NoError(t, err)

	err = s.Logout(context.Background())
	var logoutErr *LogoutError
	require.ErrorAs(t, err, &logoutErr)
	assert.Nil(t, logoutErr.Local)

	assert.Equal(t, []string{"held"}, f.loggedOut)
	assert.Empty(t, s.Token())
	stored, _ := storage.Load(context.Background())
	assert.Empty(t, stored)
}

func TestLogoutTreatsUnauthorizedAsDone(t *testing.T) {
	storage := &MemoryStorage{}
	require.NoError(t, storage.Save(context.Background(), "expired"))
	f := &fakeAPI{logoutErr: &APIError{Status: http.StatusUnauthorized}}
	s, err := NewSession(context.Background(), f, storage)
	require.NoError(t, err)

	require.NoError(t, s.Logout(context.Background()))
}

func TestLogoutWithoutTokenSkipsServer(t *testing.T) {
	f := &fakeAPI{}
	s, err := NewSession(context.Background(), f, &MemoryStorage{})
	require.NoError(t, err)

	require.NoError(t, s.Logout(context.Background()))
	assert.Empty(t, f.loggedOut)
}

func TestLogoutDuringFetchLeavesNoCredential(t *testing.T) {
	fake := &fakeAPI{meUser: models.UserResource{ID: "u-1"}, meRelease: make(chan struct{})}
	s, err := NewSession(context.Background(), fake, &MemoryStorage{token: "stored"})
	require.NoError(t, err)

	logoutDone := make(chan error, 1)
	fake.onSetToken = func() {
		go func() { logoutDone <- s.Logout(context.Background()) }()
		// Give the logout a chance to run before the credential is set.
		time.Sleep(20 * time.Millisecond)
	}

	fetchDone := make(chan error, 1)
	go func() { fetchDone <- s.FetchUser(context.Background()) }()

	require.NoError(t, <-logoutDone)
	close(fake.meRelease)
	require.ErrorIs(t, <-fetchDone, ErrStaleFetch)

	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	assert.Empty(t, fake.currentToken())
}

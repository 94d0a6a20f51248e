package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/isdelr/ender-auth/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrStaleFetch is returned by FetchUser when a newer fetch, a login or a
// logout happened while the request was in flight. The result is discarded.
var ErrStaleFetch = errors.New("user fetch superseded")

// LogoutError reports a logout whose local half completed but whose server
// revocation did not. The token may still be valid server-side.
type LogoutError struct {
	Remote error
	Local  error
}

func (e *LogoutError) Error() string {
	msg := fmt.Sprintf("signed out locally but the server did not revoke the token: %v", e.Remote)
	if e.Local != nil {
		msg += fmt.Sprintf("; clearing stored token also failed: %v", e.Local)
	}
	return msg
}

func (e *LogoutError) Unwrap() []error {
	if e.Local == nil {
		return []error{e.Remote}
	}
	return []error{e.Remote, e.Local}
}

// Session is the client-side auth state: the held token (mirrored to
// durable storage) and the current user (memory only, fetched lazily).
type Session struct {
	api     AuthAPI
	storage TokenStorage

	mu    sync.Mutex
	token string
	user  *models.UserResource
	// gen changes whenever token or user is replaced; in-flight fetches
	// compare against it before writing.
	gen uint64
}

// NewSession restores the stored token. The user stays nil until FetchUser.
func NewSession(ctx context.Context, api AuthAPI, storage TokenStorage) (*Session, error) {
	token, err := storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored token: %w", err)
	}
	return &Session{api: api, storage: storage, token: token}, nil
}

// Token returns the held token or "".
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// User returns a copy of the loaded user, or nil.
func (s *Session) User() *models.UserResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Login authenticates as the "web" device and stores the resulting session.
// API errors are returned unchanged.
func (s *Session) Login(ctx context.Context, email, password string) error {
	res, err := s.api.Login(ctx, email, password, WebDeviceName)
	if err != nil {
		return err
	}
	return s.establish(ctx, res)
}

// Register creates an account and stores the resulting session.
func (s *Session) Register(ctx context.Context, name, email, password, passwordConfirmation string) error {
	res, err := s.api.Register(ctx, name, email, password, passwordConfirmation)
	if err != nil {
		return err
	}
	return s.establish(ctx, res)
}

// FetchUser loads the current user for the held token. Without a token it
// does nothing. A failed fetch leaves the token in place.
func (s *Session) FetchUser(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	if token == "" {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	// Under the lock, so a concurrent Logout's ClearToken always wins.
	s.api.SetToken(token)
	s.mu.Unlock()

	user, err := s.api.Me(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.gen != gen || s.token != token {
		log.Debug().Str("user_id", user.ID).Msg("Discarding superseded user fetch")
		return ErrStaleFetch
	}
	s.user = &user
	return nil
}

// Logout revokes the held token on the server and then clears the local
// session. The local half always completes; a failed revocation is reported
// as *LogoutError.
func (s *Session) Logout(ctx context.Context) error {
	token := s.Token()

	var remoteErr error
	if token != "" {
		// 401 means the token is already unusable, which is what logout wants.
		if err := s.api.Logout(ctx, token); err != nil && !IsUnauthorized(err) {
			remoteErr = err
		}
	}

	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.gen++
	s.api.ClearToken()
	s.mu.Unlock()

	localErr := s.storage.Clear(context.WithoutCancel(ctx))

	if remoteErr != nil {
		log.Warn().Err(remoteErr).Msg("Server-side token revocation failed")
		return &LogoutError{Remote: remoteErr, Local: localErr}
	}
	if localErr != nil {
		return fmt.Errorf("clear stored token: %w", localErr)
	}
	return nil
}

func (s *Session) establish(ctx context.Context, res models.AuthResponse) error {
	user := res.User

	s.mu.Lock()
	s.token = res.Token
	s.user = &user
	s.gen++
	s.api.SetToken(res.Token)
	s.mu.Unlock()

	if err := s.storage.Save(ctx, res.Token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

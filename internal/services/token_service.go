package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/ender-auth/internal/models"
)

const (
	secretLength   = 40
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// TokenServiceProvider defines the interface for the bearer token store.
type TokenServiceProvider interface {
	IssueToken(ctx context.Context, userID, deviceName string) (models.NewAccessToken, error)
	ValidateToken(ctx context.Context, plainText string) (models.AccessToken, error)
	RevokeToken(ctx context.Context, tokenID string) error
	RevokeUserTokens(ctx context.Context, userID string) (int64, error)
	ListUserTokens(ctx context.Context, userID string) ([]models.AccessToken, error)
	PruneExpired(ctx context.Context) (int64, error)
}

// RevocationNotifier is told when tokens are deleted, so that anything
// holding on to them can let go.
type RevocationNotifier interface {
	TokenRevoked(tokenID string)
	UserTokensRevoked(userID string)
}

// TokenService stores opaque bearer tokens as "<id>|<secret>" where only the
// SHA-256 of the secret is persisted.
type TokenService struct {
	db        *sql.DB
	ttl       time.Duration
	now       func() time.Time
	notifiers []RevocationNotifier
}

// NewTokenService creates a new TokenService. A zero ttl issues tokens that
// never expire.
func NewTokenService(db *sql.DB, ttl time.Duration, notifiers ...RevocationNotifier) *TokenService {
	return &TokenService{db: db, ttl: ttl, now: time.Now, notifiers: notifiers}
}

// IssueToken creates a token for userID labelled deviceName and returns its
// plain text. The plain text is not recoverable afterwards.
func (s *TokenService) IssueToken(ctx context.Context, userID, deviceName string) (models.NewAccessToken, error) {
	if deviceName == "" {
		deviceName = models.DefaultDeviceName
	}

	secret, err := randomSecret(secretLength)
	if err != nil {
		return models.NewAccessToken{}, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now().UTC()
	token := models.AccessToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      deviceName,
		TokenHash: hashSecret(secret),
		CreatedAt: now,
	}
	if s.ttl > 0 {
		expires := now.Add(s.ttl)
		token.ExpiresAt = &expires
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personal_access_tokens (id, user_id, name, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.Name, token.TokenHash, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		return models.NewAccessToken{}, fmt.Errorf("db error: %w", err)
	}

	return models.NewAccessToken{
		AccessToken: token,
		PlainText:   token.ID + "|" + secret,
	}, nil
}

// ValidateToken resolves a plain text token to its stored row. Unknown,
// malformed and expired tokens all yield ErrUnauthenticated.
func (s *TokenService) ValidateToken(ctx context.Context, plainText string) (models.AccessToken, error) {
	id, secret, ok := strings.Cut(plainText, "|")
	if !ok || id == "" || secret == "" {
		return models.AccessToken{}, ErrUnauthenticated
	}

	token, err := s.getToken(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return models.AccessToken{}, ErrUnauthenticated
		}
		return models.AccessToken{}, err
	}

	if subtle.ConstantTimeCompare([]byte(token.TokenHash), []byte(hashSecret(secret))) != 1 {
		return models.AccessToken{}, ErrUnauthenticated
	}

	now := s.now().UTC()
	if token.Expired(now) {
		return models.AccessToken{}, ErrUnauthenticated
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?", now, token.ID); err != nil {
		return models.AccessToken{}, fmt.Errorf("db error: %w", err)
	}
	token.LastUsedAt = &now
	return token, nil
}

// RevokeToken deletes exactly one token.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM personal_access_tokens WHERE id = ?", tokenID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	for _, notifier := range s.notifiers {
		notifier.TokenRevoked(tokenID)
	}
	return nil
}

// RevokeUserTokens deletes every token owned by userID.
func (s *TokenService) RevokeUserTokens(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM personal_access_tokens WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		for _, notifier := range s.notifiers {
			notifier.UserTokensRevoked(userID)
		}
	}
	return n, nil
}

// ListUserTokens returns the tokens of userID, newest first.
func (s *TokenService) ListUserTokens(ctx context.Context, userID string) ([]models.AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, token_hash, last_used_at, expires_at, created_at
		FROM personal_access_tokens WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tokens []models.AccessToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

// PruneExpired deletes tokens whose expiry has passed.
func (s *TokenService) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM personal_access_tokens WHERE expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (s *TokenService) getToken(ctx context.Context, id string) (models.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, token_hash, last_used_at, expires_at, created_at
		FROM personal_access_tokens WHERE id = ?`, id)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AccessToken{}, ErrTokenNotFound
		}
		return models.AccessToken{}, err
	}
	return token, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (models.AccessToken, error) {
	var token models.AccessToken
	var lastUsed, expires sql.NullTime
	err := row.Scan(&token.ID, &token.UserID, &token.Name, &token.TokenHash, &lastUsed, &expires, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AccessToken{}, err
		}
		return models.AccessToken{}, fmt.Errorf("db error: %w", err)
	}
	if lastUsed.Valid {
		token.LastUsedAt = &lastUsed.Time
	}
	if expires.Valid {
		token.ExpiresAt = &expires.Time
	}
	return token, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func randomSecret(n int) (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(secretAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

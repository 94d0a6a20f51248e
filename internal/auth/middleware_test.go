package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isdelr/ender-auth/internal/models"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	want  string
	err   error
	calls int
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, plain string) (models.User, models.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return models.User{}, models.AccessToken{}, f.err
	}
	if plain != f.want {
		return models.User{}, models.AccessToken{}, services.ErrUnauthenticated
	}
	return models.User{ID: "u-1", Name: "Ada"}, models.AccessToken{ID: "t-1", UserID: "u-1"}, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc|def", "abc|def", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}

func TestMiddlewareStoresUserAndToken(t *testing.T) {
	authn := &fakeAuthenticator{want: "good"}
	var seenUser models.User
	var seenToken models.AccessToken
	h := Middleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		seenUser, ok = UserFrom(r.Context())
		require.True(t, ok)
		seenToken, ok = TokenFrom(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-1", seenUser.ID)
	assert.Equal(t, "t-1", seenToken.ID)
}

func TestMiddlewareRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	t.Run("missing header", func(t *testing.T) {
		authn := &fakeAuthenticator{want: "good"}
		rec := httptest.NewRecorder()
		Middleware(authn)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Unauthenticated."}`, rec.Body.String())
		assert.Zero(t, authn.calls)
	})

	t.Run("unknown token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		Middleware(&fakeAuthenticator{want: "good"})(next).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		Middleware(&fakeAuthenticator{err: errors.New("db down")})(next).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

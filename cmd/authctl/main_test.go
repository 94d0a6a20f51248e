package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/isdelr/ender-auth/internal/api"
	"github.com/isdelr/ender-auth/internal/client"
	"github.com/isdelr/ender-auth/internal/database"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func startServer(t *testing.T) string {
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
	return srv.URL
}

func TestCLIFlow(t *testing.T) {
	server := startServer(t)
	local := filepath.Join(t.TempDir(), "authctl.db")
	ctx := context.Background()

	exec := func(args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		full := append([]string{"-server", server, "-db", local}, args...)
		err := run(ctx, full, &stdout, &stderr)
		return stdout.String(), err
	}

	out, err := exec("visit", "/")
	require.NoError(t, err)
	assert.Equal(t, "/ -> redirected to /login\n", out)

	out, err = exec("register", "-name", "Ada", "-email", "ada@x.com", "-password", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, `"email": "ada@x.com"`)

	// Each run is a fresh process: the token comes back from the local database.
	out, err = exec("me")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Ada"`)

	out, err = exec("visit", "/login")
	require.NoError(t, err)
	assert.Equal(t, "/login -> redirected to /\n", out)

	out, err = exec("logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out.\n", out)

	_, err = exec("me")
	require.Error(t, err)
}

func TestCLILoginPromptsForPassword(t *testing.T) {
	server := startServer(t)
	local := filepath.Join(t.TempDir(), "authctl.db")
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(ctx, []string{"-server", server, "-db", local,
		"register", "-name", "Ada", "-email", "ada@x.com", "-password", "secret123"}, &stdout, &stderr))

	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) { return []byte("secret123"), nil }

	stdout.Reset()
	require.NoError(t, run(ctx, []string{"-server", server, "-db", local,
		"login", "-email", "ada@x.com"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), `"name": "Ada"`)
}

func TestCLIValidationMessage(t *testing.T) {
	server := startServer(t)
	local := filepath.Join(t.TempDir(), "authctl.db")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-server", server, "-db", local,
		"register", "-name", "Ada", "-email", "not-an-email", "-password", "secret123"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email:")
}

func TestCLIUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-db", filepath.Join(t.TempDir(), "a.db"), "dance"}, &stdout, &stderr)
	require.Error(t, err)
}

func TestDescribeOrdersFields(t *testing.T) {
	err := describe(&client.APIError{
		Status:  422,
		Message: "The given data was invalid.",
		Errors: map[string][]string{
			"password": {"too short"},
			"email":    {"taken"},
			"name":     {"required", "too long"},
		},
	})
	assert.Equal(t, "The given data was invalid.\n  email: taken\n  name: required; too long\n  password: too short", err.Error())

	plain := errors.New("boom")
	assert.Same(t, plain, describe(plain))
}

// Command authctl drives the client-side session against an auth server:
// it keeps the bearer token in a local SQLite file and applies the same
// navigation guard the web app uses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/isdelr/ender-auth/internal/client"
	"github.com/isdelr/ender-auth/internal/database"
	"github.com/isdelr/ender-auth/internal/logger"
	"github.com/isdelr/ender-auth/internal/navigation"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

const usage = `usage: authctl [-server URL] [-db PATH] <command> [flags]

commands:
  register -name NAME -email EMAIL [-password PW]
  login    -email EMAIL [-password PW]
  me
  logout
  visit    PATH`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage) }
	server := fs.String("server", envOr("AUTHCTL_SERVER", "http://localhost:8080"), "auth server base URL")
	dbPath := fs.String("db", envOr("AUTHCTL_DB", "./authctl.db"), "local token database")
	logLevel := fs.String("log-level", envOr("LOG_LEVEL", "warn"), "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	logger.Init(*logLevel)

	db, err := database.New(*dbPath)
	if err != nil {
		return fmt.Errorf("open local database: %w", err)
	}
	defer db.Close()

	storage, err := client.NewSQLiteStorage(ctx, db)
	if err != nil {
		return err
	}
	session, err := client.NewSession(ctx, client.NewAPIClient(*server, nil), storage)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "register":
		return register(ctx, session, rest, stdout, stderr)
	case "login":
		return login(ctx, session, rest, stdout, stderr)
	case "me":
		if err := session.FetchUser(ctx); err != nil {
			return err
		}
		if session.User() == nil {
			return errors.New("not logged in")
		}
		return printJSON(stdout, session.User())
	case "logout":
		if err := session.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Logged out.")
		return nil
	case "visit":
		if len(rest) != 1 {
			return errors.New("usage: visit PATH")
		}
		router := navigation.NewRouter(session, navigation.DefaultRoutes())
		d, err := router.Navigate(ctx, rest[0])
		if err != nil {
			return err
		}
		if d.FetchErr != nil {
			fmt.Fprintln(stderr, "warning: user fetch failed:", d.FetchErr)
		}
		if d.Redirected {
			fmt.Fprintf(stdout, "%s -> redirected to %s\n", d.Requested, d.Path)
		} else {
			fmt.Fprintf(stdout, "%s\n", d.Path)
		}
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func register(ctx context.Context, session *client.Session, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, confirm := *password, *password
	if pw == "" {
		var err error
		if pw, err = promptPassword(stderr, "Password: "); err != nil {
			return err
		}
		if confirm, err = promptPassword(stderr, "Confirm password: "); err != nil {
			return err
		}
	}

	if err := session.Register(ctx, *name, *email, pw, confirm); err != nil {
		return describe(err)
	}
	return printJSON(stdout, session.User())
}

func login(ctx context.Context, session *client.Session, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		var err error
		if pw, err = promptPassword(stderr, "Password: "); err != nil {
			return err
		}
	}

	if err := session.Login(ctx, *email, pw); err != nil {
		return describe(err)
	}
	return printJSON(stdout, session.User())
}

func promptPassword(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// describe flattens validation errors into a readable message.
func describe(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Errors) == 0 {
		return err
	}
	fields := make([]string, 0, len(apiErr.Errors))
	for field := range apiErr.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString(apiErr.Message)
	for _, field := range fields {
		fmt.Fprintf(&b, "\n  %s: %s", field, strings.Join(apiErr.Errors[field], "; "))
	}
	return errors.New(b.String())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

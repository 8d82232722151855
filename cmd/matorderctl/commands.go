package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	sdk "github.com/matorder/matorder/sdk/go"
)

type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

type app struct {
	client *sdk.Client
	logger zerolog.Logger
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "whoami":
		return a.whoami(ctx)
	case "refresh":
		return a.refresh(ctx)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status(ctx)
	case "get":
		return a.get(ctx, rest)
	default:
		return usageError{msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError{msg: "login takes exactly one argument: <email>"}
	}
	password, err := a.password()
	if err != nil {
		return err
	}
	profile, err := a.client.Session.Login(ctx, args[0], password)
	switch {
	case sdk.IsInvalidCredentials(err):
		return errors.New("invalid email or password")
	case sdk.IsNetworkError(err):
		return fmt.Errorf("console unreachable, try again: %w", err)
	case err != nil:
		return err
	}
	return a.print(profile)
}

func (a *app) register(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError{msg: "register takes <name> <email> [role]"}
	}
	password, err := a.password()
	if err != nil {
		return err
	}
	req := sdk.RegisterRequest{Name: args[0], Email: args[1], Password: password}
	if len(args) == 3 {
		req.Role = args[2]
	}
	profile, err := a.client.Session.Register(ctx, req)
	if err != nil {
		return err
	}
	return a.print(profile)
}

func (a *app) whoami(ctx context.Context) error {
	profile := a.client.Session.WhoAmI(ctx)
	if profile == nil {
		return errors.New("profile unavailable; log in first")
	}
	return a.print(profile)
}

func (a *app) refresh(ctx context.Context) error {
	if _, err := a.client.Session.Refresh(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintln(a.stdout, "credentials refreshed")
	return err
}

func (a *app) logout(ctx context.Context) error {
	err := a.client.Session.SignOut(ctx)
	var timeoutErr *sdk.FailsafeTimeoutError
	if errors.As(err, &timeoutErr) {
		a.logger.Warn().Dur("timeout", timeoutErr.Timeout).Msg("server did not confirm logout; local session cleared")
		err = nil
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, "logged out")
	return err
}

func (a *app) status(ctx context.Context) error {
	out := struct {
		State   sdk.SessionState `json:"state"`
		Profile *sdk.UserProfile `json:"profile,omitempty"`
	}{
		State:   a.client.Session.State(ctx),
		Profile: a.client.Session.CachedProfile(ctx),
	}
	return a.print(out)
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError{msg: "get takes exactly one argument: <path>"}
	}
	var body json.RawMessage
	if err := a.client.Do(ctx, http.MethodGet, args[0], nil, &body); err != nil {
		return err
	}
	return a.print(body)
}

func (a *app) password() (string, error) {
	if pw := os.Getenv("MATORDER_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", usageError{msg: "password required (MATORDER_PASSWORD or stdin)"}
	}
	return pw, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

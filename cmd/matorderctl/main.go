// Command matorderctl drives an admin console session from the terminal: it logs in, keeps the
// credential pair in a local store between invocations and calls authenticated API routes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	sdk "github.com/matorder/matorder/sdk/go"
	"github.com/matorder/matorder/sdk/go/routes"
	"github.com/matorder/matorder/sdk/go/telemetry"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	var (
		configPath  string
		showMetrics bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.BoolVar(&showMetrics, "metrics", false, "print SDK metrics to stderr before exiting")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matorderctl: %v\n", err)
		os.Exit(exitError)
	}
	logger := newLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	reg := prometheus.NewRegistry()
	code := run(ctx, cfg, logger, reg, flag.Args(), os.Stdin, os.Stdout)
	if showMetrics {
		if err := dumpMetrics(os.Stderr, reg); err != nil {
			logger.Error().Err(err).Msg("metrics_dump_failed")
		}
	}
	stop()
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: matorderctl [-config path] [-metrics] <command> [args]

commands:
  login <email>                  log in (password from MATORDER_PASSWORD or stdin)
  register <name> <email> [role] create an account and log in
  whoami                         fetch the current user and refresh the cached profile
  refresh                        rotate the credential pair
  logout                         sign out, bounded by the logout timeout
  status                         print the local session state without network I/O
  get <path>                     GET an API route with the stored credentials
`)
}

func run(ctx context.Context, cfg *Config, logger zerolog.Logger, reg prometheus.Registerer, args []string, stdin io.Reader, stdout io.Writer) int {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error().Err(err).Str("kind", cfg.Store.Kind).Msg("store_open_failed")
		return exitError
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("store_close_failed")
		}
	}()

	prom, err := telemetry.NewPrometheus(reg)
	if err != nil {
		logger.Error().Err(err).Msg("metrics_register_failed")
		return exitError
	}

	loginURL := strings.TrimSuffix(cfg.BaseURL, "/") + routes.LoginPage
	client, err := sdk.NewClient(sdk.Config{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.Session.RequestTimeout},
		Store:          store,
		Telemetry:      telemetry.Hooks(logger, prom),
		LogoutTimeout:  cfg.Session.LogoutTimeout,
		RefreshSkew:    cfg.Session.RefreshSkew,
		RefreshTimeout: cfg.Session.RefreshTimeout,
		LoginRequired: func(_ context.Context, reason sdk.LogoutReason) {
			if reason == sdk.LogoutExplicit {
				return
			}
			logger.Warn().Str("reason", string(reason)).Str("login_url", loginURL).Msg("session ended, log in again")
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("client_init_failed")
		return exitError
	}

	a := &app{client: client, logger: logger, stdin: stdin, stdout: stdout}
	err = a.dispatch(ctx, args)
	var usageErr usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usageErr):
		logger.Error().Msg(err.Error())
		return exitUsage
	default:
		logger.Error().Err(err).Str("command", args[0]).Msg("command_failed")
		return exitError
	}
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

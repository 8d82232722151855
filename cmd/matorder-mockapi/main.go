// Command matorder-mockapi serves a fake admin console auth API for local development of SDK
// clients. Tokens are real HS256 JWTs; state lives in memory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/matorder/matorder/sdk/go/testutil"
)

type Config struct {
	Env              string        `yaml:"env" env:"ENV" env-default:"local"`
	Host             string        `yaml:"host" env:"MOCKAPI_HOST" env-default:"127.0.0.1"`
	Port             string        `yaml:"port" env:"MOCKAPI_PORT" env-default:"5000"`
	Secret           string        `yaml:"secret" env:"MOCKAPI_SECRET"`
	AccessTTL        time.Duration `yaml:"access_ttl" env:"MOCKAPI_ACCESS_TTL" env-default:"15m"`
	KeepRefreshToken bool          `yaml:"keep_refresh_token" env:"MOCKAPI_KEEP_REFRESH_TOKEN" env-default:"false"`
	LogoutDelay      time.Duration `yaml:"logout_delay" env:"MOCKAPI_LOGOUT_DELAY" env-default:"0s"`
}

func (c Config) Addr() string { return net.JoinHostPort(c.Host, c.Port) }

func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	return &cfg, nil
}

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matorder-mockapi: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "matorder-mockapi").Logger()
	if cfg.Env == "local" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	api := testutil.NewAuthAPI(testutil.AuthAPIConfig{
		Secret:           []byte(cfg.Secret),
		AccessTTL:        cfg.AccessTTL,
		KeepRefreshToken: cfg.KeepRefreshToken,
	})
	api.SetLogoutDelay(cfg.LogoutDelay)

	var ready atomic.Bool
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	api.Register(r)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http_listen_start")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http_serve_failed")
			rootCancel()
		}
	}()
	ready.Store(true)

	<-rootCtx.Done()
	ready.Store(false)
	log.Info().Msg("shutdown_start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http_shutdown_failed")
	}
	log.Info().Msg("shutdown_complete")
}

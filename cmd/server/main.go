package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"leihsldap/internal/directory"
	"leihsldap/internal/login"
	"leihsldap/internal/platform/config"
	"leihsldap/internal/platform/httpserver"
	"leihsldap/internal/platform/logger"
	"leihsldap/internal/platform/metrics"
	"leihsldap/internal/platform/middleware"
	"leihsldap/internal/registration"
	"leihsldap/internal/token"
	httptransport "leihsldap/internal/transport/http"
	"leihsldap/pkg/platform/sentinel"
)

// main wires the configuration snapshot into each component, registers the
// authentication system downstream once, and runs the HTTP server. Business
// logic lives in the internal packages.
func main() {
	configPath := flag.String("config", "", "path to a configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	codec, err := token.NewCodec(
		cfg.Token.PrivateKey,
		cfg.Token.PublicKey,
		time.Duration(cfg.Token.Validity)*time.Second,
	)
	if err != nil {
		log.Error("invalid token keypair", "error", err)
		os.Exit(1)
	}

	verifier := directory.NewVerifier(directory.Config{
		Server:         cfg.LDAP.Server,
		Port:           cfg.LDAP.Port,
		UserDNTemplate: cfg.LDAP.UserDN,
		BaseDN:         cfg.LDAP.BaseDN,
		FilterTemplate: cfg.LDAP.SearchFilter,
		Fields: directory.FieldMap{
			Email:  cfg.LDAP.Userdata.Email.Field,
			Family: cfg.LDAP.Userdata.Name.Family,
			Given:  cfg.LDAP.Userdata.Name.Given,
			Groups: cfg.LDAP.Userdata.Groups.Fields,
		},
	}, log)

	registrar := newRegistrationClient(cfg, log)

	orchestrator := login.New(codec, verifier, registrar, login.Policy{
		AllowExpired:   cfg.Token.AllowExpired,
		EmailOverwrite: cfg.LDAP.Userdata.Email.Overwrite,
		EmailFallback:  cfg.LDAP.Userdata.Email.Fallback,
	}, log, m)

	pages, err := httptransport.NewPages(cfg.System.URL)
	if err != nil {
		log.Error("could not load page templates", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	httptransport.New(orchestrator, pages, log).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	registerAuthSystem(cfg, registrar, log)

	srv := httpserver.New(cfg.Listen, r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting leihs-ldap authenticator", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newRegistrationClient picks the transport strategy: a static API token
// when one is configured, otherwise an interactive admin session.
func newRegistrationClient(cfg *config.Config, log *slog.Logger) registration.Client {
	if cfg.System.APIToken != "" {
		return registration.NewTokenClient(cfg.System.URL, cfg.System.APIToken, cfg.System.Auth.ID, log)
	}
	return registration.NewSessionClient(
		cfg.System.URL,
		cfg.System.Admin.User,
		cfg.System.Admin.Password,
		cfg.System.Auth.ID,
		log,
	)
}

// registerAuthSystem declares this authenticator downstream once per process
// start. After the first start the downstream system already knows us, so a
// conflict here is expected and only worth a warning.
func registerAuthSystem(cfg *config.Config, registrar registration.Client, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := registrar.EnsureAuthSystemRegistered(ctx, registration.AuthSystem{
		ID:          cfg.System.Auth.ID,
		Name:        cfg.System.Auth.Name,
		Description: cfg.System.Auth.Description,
		ExternalURL: cfg.System.Auth.URL,
		Priority:    cfg.System.Auth.Priority,
		EmailMatch:  cfg.System.Auth.EmailMatch,
		PublicKey:   cfg.Token.PublicKey,
		PrivateKey:  cfg.Token.PrivateKey,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			log.Warn("authentication system is already registered", "id", cfg.System.Auth.ID)
			return
		}
		log.Warn("could not register authentication system; it is likely already registered",
			"id", cfg.System.Auth.ID,
			"error", err,
		)
		return
	}
	log.Info("registered authentication system", "id", record.ID)
}

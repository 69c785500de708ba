package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/helpdesk"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/oidc"
	"opsdesk.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.DB().PingContext(pingCtx); err != nil {
		log.Printf("db not reachable yet: %v", err)
	}
	cancelPing()

	codec, err := auth.NewTokenCodec(cfg.TokenSecret,
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithTTL(cfg.SessionTTL),
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	resolver := auth.NewResolver(store)
	mutator := auth.NewMutator(store)
	issuer, err := auth.NewIssuer(store, resolver, mutator, codec)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 15*time.Second)
	if err := issuer.EnsureBuiltins(bootCtx); err != nil {
		log.Fatalf("ensure builtin roles: %v", err)
	}
	cancelBoot()

	tickets, err := helpdesk.NewService(store)
	if err != nil {
		log.Fatalf("helpdesk: %v", err)
	}

	opts := []httpapi.Option{
		httpapi.WithSecureCookies(cfg.SecureCookies),
	}
	if cfg.OAuth.Enabled() {
		provider, err := oidc.NewProvider(context.Background(), oidc.Config{
			Name:         cfg.OAuth.ProviderName,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			IssuerURL:    cfg.OAuth.IssuerURL,
		})
		if err != nil {
			log.Fatalf("oidc provider: %v", err)
		}
		opts = append(opts, httpapi.WithOAuthProvider(provider))
		log.Printf("federated sign-in enabled via %s", cfg.OAuth.ProviderName)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version,
		store, codec, issuer, mutator, resolver, tickets, opts...)

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	if cfg.RateLimitRPS > 0 {
		handler = httpapi.RateLimit(handler, int(cfg.RateLimitRPS)*2, cfg.RateLimitRPS)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

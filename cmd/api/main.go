package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orbistack.org/internal/apikey"
	"orbistack.org/internal/auth"
	"orbistack.org/internal/httpapi"
	"orbistack.org/internal/obs"
	"orbistack.org/internal/session"
	"orbistack.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("ORBI_PG_DSN")
	if dsn == "" {
		log.Fatal("missing ORBI_PG_DSN")
	}
	secret := os.Getenv("ORBI_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing ORBI_AUTH_SECRET")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	hasher := auth.NewHasher(0)

	var tokenOpts []auth.TokenOption
	if ttl := envDuration("ORBI_ACCESS_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := envDuration("ORBI_REFRESH_TTL"); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithRefreshTTL(ttl))
	}
	tokens, err := auth.NewTokenAuthority([]byte(secret), tokenOpts...)
	if err != nil {
		log.Fatalf("token authority: %v", err)
	}

	authOpts := []auth.ServiceOption{
		auth.WithLoginRateLimit(5, 10),
	}
	var sessions *session.RedisStore
	if addr := os.Getenv("ORBI_REDIS_ADDR"); addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sessions, err = session.NewRedisStore(ctx, addr)
		cancel()
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer sessions.Close()
		authOpts = append(authOpts, auth.WithSessionStore(sessions))
	}

	authSvc, err := auth.NewService(store.Users(), hasher, tokens, store.Audit(), authOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	var keyOpts []apikey.Option
	if n := envInt("ORBI_MAX_KEYS_PER_USER"); n > 0 {
		keyOpts = append(keyOpts, apikey.WithMaxKeysPerUser(n))
	}
	keySvc, err := apikey.NewService(store.APIKeys(), hasher, keyOpts...)
	if err != nil {
		log.Fatalf("apikey service: %v", err)
	}

	sweeper, err := apikey.NewSweeper(keySvc, os.Getenv("ORBI_KEY_SWEEP_SCHEDULE"))
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		log.Fatalf("start sweeper: %v", err)
	}

	api := httpapi.New(authSvc, keySvc, httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("ORBI_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting orbistack-api %s on %s", version, srv.Addr)

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
	sweeper.Stop()
	log.Println("Stopped")
}

func envDuration(name string) time.Duration {
	val := os.Getenv(name)
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return d
}

func envInt(name string) int {
	val := os.Getenv(name)
	if val == "" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return n
}

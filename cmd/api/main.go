package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"dmarcview.org/internal/httpapi"
	"dmarcview.org/internal/mutate"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
	"dmarcview.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("DMARCVIEW_PG_DSN")
	if dsn == "" {
		log.Fatal("missing DMARCVIEW_PG_DSN")
	}
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	tokens, err := token.NewManager(
		os.Getenv("DMARCVIEW_AUTH_SECRET"),
		os.Getenv("DMARCVIEW_REFRESH_SECRET"),
		os.Getenv("DMARCVIEW_INVITE_SECRET"),
	)
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	opts := []mutate.Option{}
	if base := os.Getenv("DMARCVIEW_INVITE_BASE_URL"); base != "" {
		opts = append(opts, mutate.WithInviteBaseURL(base))
	}
	mutations, err := mutate.NewService(db, tokens, opts...)
	if err != nil {
		log.Fatalf("mutation service: %v", err)
	}

	api := httpapi.New(db, tokens, mutations, version)

	addr := os.Getenv("DMARCVIEW_ADDR")
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

	log.Printf("Starting dmarcview-api %s on %s", version, srv.Addr)

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
	_ = db.Close()
	log.Println("Stopped")
}

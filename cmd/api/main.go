package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aduanet.org/internal/auth"
	"aduanet.org/internal/authevents"
	"aduanet.org/internal/httpapi"
	"aduanet.org/internal/obs"
)

var version = "0.3.1"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ADUANET_COMMIT"))

	secret := os.Getenv("ADUANET_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("missing ADUANET_TOKEN_SECRET")
	}

	// Подключение к БД, если задан DSN; иначе in-memory store для dev-режима.
	var (
		db    *sql.DB
		store auth.Store
	)
	if dsn := os.Getenv("ADUANET_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("ADUANET_PG_DSN not set, using in-memory store")
		store = auth.NewMemStore()
	}

	events := authevents.New()
	authSvc, err := auth.NewService(store,
		auth.WithTokenSecret(secret),
		auth.WithEvents(events),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, authSvc, store, events)

	addr := os.Getenv("ADUANET_HTTP_ADDR")
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

	log.Printf("Starting aduanet-identity %s on %s", version, srv.Addr)

	// graceful shutdown
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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"attest/api/internal/app"
	"attest/api/internal/assign"
	"attest/api/internal/config"
	"attest/api/internal/evidence"
	"attest/api/internal/search"
	"attest/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		searchService.ReindexAllFromPG(ctx)
	}

	var notifier assign.Notifier
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Publishing assignment intents to Redis stream %s", cfg.AssignmentStream)
		redisNotifier, err := assign.NewRedisNotifier(cfg.RedisURL, cfg.AssignmentStream)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		notifier = redisNotifier
	} else {
		log.Printf("No Redis configured; assignment intents go to the process log")
		notifier = assign.LogNotifier{}
	}
	defer notifier.Close()

	var evidenceStore *evidence.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		evidenceStore, err = evidence.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("evidence store connection failed: %v", err)
		}
		log.Printf("Evidence storage enabled on bucket %s", cfg.MinioBucket)
	}

	service := app.NewService(dataStore, notifier, searchService, evidenceStore)

	httpServer := app.NewHTTPServer(service, cfg.ServiceToken, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Attest API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

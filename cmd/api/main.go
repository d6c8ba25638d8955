package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"royalty-service/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}
	srv := app.NewServer()

	// Run server in a separate goroutine so we can listen for shutdown signals
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("[MAIN] server failed: %v", err)
			shutdown(srv)
			os.Exit(1)
		}
		return
	case <-quit:
	}

	log.Println("[MAIN] shutting down server...")
	shutdown(srv)
	log.Println("[MAIN] server stopped gracefully")
}

func shutdown(srv *app.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] shutdown: %v", err)
	}
}

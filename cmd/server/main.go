package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/contact-sync/internal/api"
	"github.com/ignite/contact-sync/internal/app"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/contactsync"
	"github.com/ignite/contact-sync/internal/pkg/distlock"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	runID := flag.String("run-id", "", "resume the checkpointed run with this id")
	flag.Parse()

	// Load configuration
	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	capture := api.NewCapture()
	sess, err := app.Build(ctx, cfg, *runID, app.Deps{Emitters: []contactsync.Emitter{capture}}, logger.Default())
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("Sync session %s ready (list %q)", sess.RunID, cfg.Sync.ListName)

	release, lost, err := sess.Lock(ctx)
	switch {
	case errors.Is(err, distlock.ErrNoBackend):
		log.Println("No lock backend configured, serving unlocked")
		release = func() {}
	case err != nil:
		sess.Close(ctx)
		log.Fatalf("Failed to take run lock: %v", err)
	}

	handlers := api.NewHandlers(sess.Router, sess.Engine, capture, logger.Default())
	server := api.NewServer(cfg.Server, handlers)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	select {
	case <-done:
	case err := <-lost:
		log.Printf("Run lock lost: %v", err)
	}
	log.Println("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	release()
	if err := sess.Close(shutdownCtx); err != nil {
		log.Printf("Session close error: %v", err)
	}

	log.Println("Server stopped")
}

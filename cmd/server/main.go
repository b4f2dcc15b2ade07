// Command server runs the health/ops HTTP facade over a goreason.Engine:
// an operator surface for registering repos and triggering indexing passes,
// not a public API for building a chat application on top of.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmc-dev/rag-core"
	"github.com/llmc-dev/rag-core/workspace"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (TOML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := goreason.DefaultConfig()
	if *configPath != "" {
		loaded, err := goreason.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	apiKey := os.Getenv("LLMC_API_KEY")
	corsOrigins := os.Getenv("LLMC_CORS_ORIGINS")

	engine, err := goreason.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := reopenRegisteredRepos(context.Background(), engine); err != nil {
		slog.Error("reopening registered repos", "error", err)
		os.Exit(1)
	}

	daemonCtx, cancelDaemon := context.WithCancel(context.Background())
	go func() {
		if err := engine.Run(daemonCtx); err != nil && err != context.Canceled {
			slog.Error("refresh daemon stopped", "error", err)
		}
	}()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /repos", h.handleRegisterRepo)
	mux.HandleFunc("DELETE /repos/{id}", h.handleUnregisterRepo)
	mux.HandleFunc("GET /repos/{id}/status", h.handleStatus)
	mux.HandleFunc("POST /repos/{id}/full-index", h.handleFullIndex)
	mux.HandleFunc("POST /repos/{id}/sync", h.handleIncrementalSync)
	mux.HandleFunc("POST /repos/{id}/embed", h.handleEmbedBatch)
	mux.HandleFunc("POST /repos/{id}/enrich", h.handleEnrichBatch)
	mux.HandleFunc("GET /repos/{id}/consistency", h.handleConsistencyScan)
	mux.HandleFunc("POST /repos/{id}/reset-poisoned/{span}", h.handleResetPoisoned)
	mux.HandleFunc("POST /repos/{id}/query", h.handleQuery)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // indexing endpoints can run long
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")
	cancelDaemon()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// reopenRegisteredRepos re-opens every repo already present in the global
// registry, so a restarted process picks its fleet back up without the
// operator re-registering each one by hand.
func reopenRegisteredRepos(ctx context.Context, engine *goreason.Engine) error {
	reg, err := workspace.LoadRegistry()
	if err != nil {
		return err
	}
	for _, rr := range reg.Repos {
		if _, err := engine.OpenRepo(ctx, rr.ID, rr.Root, rr.Domain); err != nil {
			slog.Error("reopening repo", "id", rr.ID, "root", rr.Root, "error", err)
			continue
		}
		slog.Info("reopened repo", "id", rr.ID, "root", rr.Root)
	}
	return nil
}

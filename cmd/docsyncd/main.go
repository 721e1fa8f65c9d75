// Package main runs the docsync server: the SQLite-backed document API
// plus the websocket relay that fans persisted changes and presence out to
// connected editors.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syab/docsync/internal/config"
	"github.com/syab/docsync/internal/httpapi"
	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/relay"
	"github.com/syab/docsync/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, cfg.LogLevel)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logging.Error("failed to open store", err,
			map[string]interface{}{"path": cfg.DatabasePath})
		os.Exit(1)
	}
	defer st.Close()

	hub := relay.NewHub(st)
	go hub.Run()
	defer hub.Stop()

	mux := http.NewServeMux()
	httpapi.NewHandler(st, hub, hub).Register(mux)
	mux.HandleFunc("GET /ws/documents/{id}", hub.ServeWS)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"docsyncd"}`))
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("docsyncd listening",
			map[string]interface{}{
				"addr":     cfg.ListenAddr,
				"database": cfg.DatabasePath,
			})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("shutdown failed", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logging.Error("server failed", err, nil)
			os.Exit(1)
		}
	}
}

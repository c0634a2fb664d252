package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	apibacksolve "opm_backsolve/pkg/api/backsolve"
	"opm_backsolve/pkg/api/health"
	"opm_backsolve/pkg/config"
	"opm_backsolve/pkg/core/captable"
	"opm_backsolve/pkg/logging"
)

func main() {
	// Load environment variables
	godotenv.Load()

	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.Logging)
	logger := logging.Default()

	presets, err := apibacksolve.LoadPresets(cfg.PresetsFile)
	if err != nil {
		log.Fatalf("Failed to load scenario presets: %v", err)
	}
	if len(presets) > 0 {
		logger.Info("scenario presets loaded", "file", cfg.PresetsFile, "count", len(presets))
	}

	// Providers: Postgres when a database is configured, otherwise the
	// in-process store so local runs work without infrastructure.
	var (
		breakpoints captable.BreakpointsProvider
		capTables   captable.CapTableProvider
	)
	if cfg.DatabaseURL != "" {
		if err := captable.InitDB(context.Background(), cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer captable.Close()
		store := captable.NewPostgresStore()
		breakpoints, capTables = store, store
		logger.Info("cap-table store: postgres")
	} else {
		store := captable.NewMemoryStore()
		breakpoints, capTables = store, store
		logger.Warn("cap-table store: in-memory (no DATABASE_URL set)")
	}

	defaults := captable.StaticDefaults{Params: cfg.Defaults}
	handler := apibacksolve.NewHandler(breakpoints, capTables, defaults, presets)

	r := mux.NewRouter()
	r.HandleFunc("/api/backsolve", handler.HandleBacksolve).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/backsolve/weighted", handler.HandleWeighted).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/health", health.NewHandler("opm-backsolve").HandleHealth).Methods(http.MethodGet)

	addr := ":" + cfg.Port
	logger.Info("opm-backsolve listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

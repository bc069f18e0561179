package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mrcode/nocturne-server/internal/api"
	"github.com/mrcode/nocturne-server/internal/config"
	"github.com/mrcode/nocturne-server/internal/engine"
	"github.com/mrcode/nocturne-server/internal/storage"
)

func main() {
	defaultPath := os.Getenv("NOCTURNE_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.json"
	}
	configPath := flag.String("config", defaultPath, "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, engine.New(cfg.EngineConfig()))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		api.RegisterRoutes(r, handler)
	})

	log.Printf("Listening on %s (database %s)", cfg.ListenAddr, cfg.DatabasePath)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatal(err)
	}
}

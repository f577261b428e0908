package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elfworks/evolve/internal/api"
	"github.com/elfworks/evolve/internal/cache"
	"github.com/elfworks/evolve/internal/config"
	"github.com/elfworks/evolve/internal/database"
	"github.com/elfworks/evolve/internal/events"
	"github.com/elfworks/evolve/internal/vector"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("evolved v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, index, embedder, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	defer index.Close()

	publisher := buildPublisher(cfg)
	defer publisher.Close()

	strategyCache, err := buildCache(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	if strategyCache != nil {
		defer strategyCache.Close()
	}

	apiServer := api.NewServer(api.Options{
		Store:     store,
		Index:     index,
		Embedder:  embedder,
		Cache:     strategyCache,
		Publisher: publisher,
		Roster:    cfg.Learning.Roster,
	})

	httpAddr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         httpAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

func buildStorage(cfg *config.Config) (database.Store, vector.Index, vector.Embedder, error) {
	embedder, err := vector.NewHashingEmbedder(cfg.Vector.Dimension)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.Database.Type == "postgres" {
		db, err := database.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, err
		}

		var index vector.Index
		if cfg.Vector.Backend == "postgres" {
			index, err = vector.NewPostgresIndex(db.DB(), "episodes")
			if err != nil {
				db.Close()
				return nil, nil, nil, err
			}
		} else {
			index = vector.NewMemoryIndex()
		}
		log.Printf("Using postgres store, %s vector index", cfg.Vector.Backend)
		return db, index, embedder, nil
	}

	log.Println("Using in-memory store and vector index")
	return database.NewMemStore(), vector.NewMemoryIndex(), embedder, nil
}

func buildPublisher(cfg *config.Config) events.Publisher {
	if cfg.NATS.URL == "" {
		return events.NoopPublisher{}
	}
	publisher, err := events.NewNatsPublisher(events.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
		Timeout:    cfg.NATS.Timeout,
	})
	if err != nil {
		// Events are best effort; the service runs without them.
		log.Printf("Failed to connect to NATS, events disabled: %v", err)
		return events.NoopPublisher{}
	}
	log.Printf("Publishing events to NATS at %s", cfg.NATS.URL)
	return publisher
}

func buildCache(cfg *config.Config) (cache.StrategyCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
	}
	return cache.NewMemoryCache(cfg.Cache.TTL), nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/smartfilterpro/edge-relay/internal/config"
	"github.com/smartfilterpro/edge-relay/internal/database"
	"github.com/smartfilterpro/edge-relay/internal/repositories"
	"github.com/smartfilterpro/edge-relay/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize persistence
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	var snapshots repositories.SnapshotRepository = repositories.NewRedisSnapshotRepository(redisClient)
	statusRepo := repositories.NewRedisStatusRepository(redisClient)

	var gapRecords repositories.GapRecordRepository
	if cfg.PostgresURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to create postgres pool: %v", err)
		}
		defer pool.Close()
		snapshots = repositories.NewPostgresSnapshotRepository(pool)
		gapRecords = repositories.NewPostgresGapRecordRepository(pool)
	}

	// Build the session pipeline for this device
	sessionKey := cfg.DeviceKey

	allocator := services.NewSequenceAllocator(ctx, "seq:"+sessionKey, snapshots)
	buffer := services.NewEventBuffer("buf:"+sessionKey, cfg.BufferCapacity, snapshots)
	buffer.Load(ctx)

	var tokens services.TokenSource
	switch {
	case cfg.RefreshToken != "":
		tokens = services.NewRefreshingTokenSource(cfg.RefreshURL, cfg.AccessToken, cfg.RefreshToken, cfg.SendTimeout)
	case cfg.AccessToken != "":
		tokens = &services.StaticTokenSource{AccessToken: cfg.AccessToken}
	}

	transport := services.NewHTTPTransport(cfg.IngestURL, cfg.SendTimeout, tokens)
	recovery := services.NewGapRecoveryCoordinator(transport, gapRecords)

	pipeline := services.NewPipeline(services.PipelineConfig{
		DeviceKey:     cfg.DeviceKey,
		SourceVendor:  cfg.SourceVendor,
		Allocator:     allocator,
		Buffer:        buffer,
		Transport:     transport,
		Recovery:      recovery,
		Status:        statusRepo,
		BatchInterval: cfg.BatchInterval,
		SendTimeout:   cfg.SendTimeout,
	})
	pipeline.Start()

	monitor := services.NewClimateMonitor(cfg.DeviceKey, pipeline)

	// Watch the thermostat if a climate endpoint was configured
	pollDone := make(chan struct{})
	if cfg.ClimateURL != "" {
		provider := &httpStateProvider{
			client: &http.Client{Timeout: cfg.SendTimeout},
			url:    cfg.ClimateURL,
		}
		go pollClimate(pollDone, provider, monitor, cfg.PollInterval)
	} else {
		log.Println("No CLIMATE_URL configured; telemetry watch disabled")
	}

	// Diagnostic HTTP surface
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, buffer.Stats())
	})

	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := statusRepo.GetStatus(r.Context(), cfg.DeviceKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	router.Get("/gaps", func(w http.ResponseWriter, r *http.Request) {
		if gapRecords == nil {
			http.Error(w, "gap records unavailable (no POSTGRES_URL)", http.StatusNotFound)
			return
		}
		records, err := gapRecords.GetByDeviceKey(r.Context(), cfg.DeviceKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	router.Post("/send_now", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*cfg.SendTimeout)
		defer cancel()
		if err := pipeline.Flush(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down agent...")
		close(pollDone)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pipeline.Close(ctx)
		server.Shutdown(ctx)
	}()

	log.Printf("Starting agent for device %s on port %s", cfg.DeviceKey, cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Agent stopped gracefully")
}

// pollClimate feeds thermostat observations to the monitor until done is
// closed. The first successful observation primes cycle tracking.
func pollClimate(done <-chan struct{}, provider services.StateProvider, monitor *services.ClimateMonitor, interval time.Duration) {
	primed := false

	observe := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		state, err := provider.State(ctx)
		if err != nil {
			log.Printf("Climate fetch failed: %v", err)
			return
		}
		if !primed {
			monitor.Prime(state)
			primed = true
			return
		}
		monitor.Observe(state)
	}

	observe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			observe()
		}
	}
}

// httpStateProvider reads the current thermostat state from a local
// climate endpoint that serves a JSON ClimateState.
type httpStateProvider struct {
	client *http.Client
	url    string
}

func (p *httpStateProvider) State(ctx context.Context) (services.ClimateState, error) {
	var state services.ClimateState

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return state, fmt.Errorf("failed to build climate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return state, fmt.Errorf("climate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return state, fmt.Errorf("climate endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return state, fmt.Errorf("failed to decode climate state: %w", err)
	}
	return state, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

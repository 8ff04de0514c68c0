package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeduet/backend/internal/api"
	"github.com/codeduet/backend/internal/bridge"
	"github.com/codeduet/backend/internal/config"
	"github.com/codeduet/backend/internal/db"
	"github.com/codeduet/backend/internal/presence"
	"github.com/codeduet/backend/internal/reaper"
	"github.com/codeduet/backend/internal/sequencer"
	"github.com/codeduet/backend/internal/session"
	"github.com/codeduet/backend/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	store := session.NewStore()

	var relayBridge *bridge.Bridge
	var wsBridge ws.Attacher
	var apiBridge api.Attacher
	if cfg.RedisAddr != "" {
		relayBridge, err = bridge.New(cfg.RedisAddr, cfg.RedisPassword, store)
		if err != nil {
			log.Fatalf("Failed to connect bridge to Redis: %v", err)
		}
		wsBridge = relayBridge
		apiBridge = relayBridge
	}

	seq := sequencer.New(store, database)
	pres := presence.New(store)

	manager := ws.NewManager(store, seq, pres, database, wsBridge)
	apiHandler := api.New(store, database, apiBridge)

	reapService := reaper.New(store, database, reaper.Config{
		Interval:    cfg.ReapInterval,
		GracePeriod: cfg.IdleGrace,
	})
	reapService.Start()
	defer reapService.Stop()

	// WebSocket endpoint
	http.HandleFunc("/ws", manager.ServeWs)

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/sessions", apiHandler.SessionsRouter)
	http.HandleFunc("/api/sessions/", apiHandler.SessionsRouter)

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		reapService.Stop()
		if relayBridge != nil {
			relayBridge.Close()
		}
		database.Close()
		os.Exit(0)
	}()

	log.Printf("codeduet server starting on :%s", cfg.Port)
	log.Printf("Database: %s", cfg.DBPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Sessions:  GET/POST /api/sessions")
	log.Println("  - Recent:    GET /api/sessions/recent")
	log.Println("  - Session:   GET/DELETE /api/sessions/{id}")

	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

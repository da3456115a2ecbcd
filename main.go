package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/williams2w4/tradej/src/config"
	"github.com/williams2w4/tradej/src/database"
	"github.com/williams2w4/tradej/src/handlers"
	"github.com/williams2w4/tradej/src/logger"
	"github.com/williams2w4/tradej/src/processors"
	"github.com/williams2w4/tradej/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, Content-Disposition")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("TradeJ backend server starting...")

	if config.Cfg.MultiplierDataPath != "" {
		logger.L.Info("Loading futures multiplier table...", "path", config.Cfg.MultiplierDataPath)
		if err := processors.LoadMultiplierTable(config.Cfg.MultiplierDataPath); err != nil {
			logger.L.Error("Failed to load multiplier table, using built-in defaults", "error", err)
		}
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(15*time.Minute, 30*time.Minute)

	logger.L.Info("Initializing services and handlers...")
	aggregator := processors.NewTradeAggregator()
	importService := services.NewImportService(aggregator, reportCache)

	importHandler := handlers.NewImportHandler(importService)
	tradeHandler := handlers.NewTradeHandler(importService)
	calendarHandler := handlers.NewCalendarHandler(reportCache)
	statsHandler := handlers.NewStatsHandler(reportCache)
	settingsHandler := handlers.NewSettingsHandler(importService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/imports", importHandler.HandleImport)
	apiRouter.HandleFunc("GET /api/imports", importHandler.HandleListImports)

	apiRouter.HandleFunc("GET /api/trades", tradeHandler.HandleListTrades)
	apiRouter.HandleFunc("DELETE /api/trades", tradeHandler.HandleDeleteAllTrades)
	apiRouter.HandleFunc("GET /api/trades/fills/export", tradeHandler.HandleExportPineScript)

	apiRouter.HandleFunc("GET /api/calendar", calendarHandler.HandleGetCalendar)
	apiRouter.HandleFunc("GET /api/stats/overview", statsHandler.HandleGetOverview)
	apiRouter.HandleFunc("GET /api/stats/by-asset", statsHandler.HandleGetStatsByAsset)

	apiRouter.HandleFunc("GET /api/settings", settingsHandler.HandleGetSettings)
	apiRouter.HandleFunc("PATCH /api/settings", settingsHandler.HandleUpdateSettings)

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "TradeJ backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  config.Cfg.HTTPReadTimeout,
		WriteTimeout: config.Cfg.HTTPWriteTimeout,
		IdleTimeout:  config.Cfg.HTTPIdleTimeout,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}

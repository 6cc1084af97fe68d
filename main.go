package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/username/taxfolio/importer/src/config"
	"github.com/username/taxfolio/importer/src/database"
	"github.com/username/taxfolio/importer/src/handlers"
	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/resolver"
	"github.com/username/taxfolio/importer/src/services"
)

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
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
}

func enableCORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && origin == allowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-Requested-With, X-Request-ID, If-None-Match")
				w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
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
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Statement importer starting...")

	instruments := resolver.Default()
	if config.Cfg.ISINTablePath != "" {
		loaded, err := resolver.LoadFile(config.Cfg.ISINTablePath)
		if err != nil {
			logger.L.Error("Failed to load instrument table, using built-in table", "path", config.Cfg.ISINTablePath, "error", err)
		} else {
			instruments = loaded
		}
	}
	logger.L.Info("Instrument table ready", "entries", instruments.Len())

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	store, err := database.Open(config.Cfg.DatabasePath)
	if err != nil {
		stdlog.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	resultCache := cache.New(config.Cfg.ResultCacheExpiration, config.Cfg.ResultCacheCleanup)
	importService := services.NewImportService(instruments, resultCache, store, config.Cfg.ImportWorkers)

	importHandler := handlers.NewImportHandler(importService, config.Cfg.MaxUploadSizeBytes)
	ledgerHandler := handlers.NewLedgerHandler(store)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/import/preview", importHandler.HandlePreview)
	apiRouter.HandleFunc("POST /api/import", importHandler.HandleImport)
	apiRouter.HandleFunc("POST /api/import/batch", importHandler.HandleImportBatch)
	apiRouter.HandleFunc("GET /api/positions", ledgerHandler.HandleGetPositions)
	apiRouter.HandleFunc("GET /api/transactions", ledgerHandler.HandleGetTransactions)

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Statement importer is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	limiter := rate.NewLimiter(rate.Every(config.Cfg.RateLimitEvery), config.Cfg.RateLimitBurst)
	finalHandler := enableCORS(config.Cfg.AllowedOrigin)(rateLimitMiddleware(limiter)(handlers.RequestLogger(rootMux)))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}

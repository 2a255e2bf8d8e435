package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/config"
	"github.com/freeeve/westmarches-hexmap/internal/handler"
	"github.com/freeeve/westmarches-hexmap/internal/logger"
	"github.com/freeeve/westmarches-hexmap/internal/middleware"
	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository/postgres"
	redisrepo "github.com/freeeve/westmarches-hexmap/internal/repository/redis"
	"github.com/freeeve/westmarches-hexmap/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("Server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Options{})
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.DevMode})
	log.Info().Str("port", cfg.Port).Bool("devMode", cfg.DevMode).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL, cfg.TownMapCacheTTL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	googleOAuth := auth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	if !googleOAuth.Configured() {
		log.Warn().Msg("Google OAuth is not configured; only dev login is available")
	}

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	hexSvc := service.NewHexMapService(store.Hexes(), cfg.GeneratorSeed)
	townSvc := service.NewTownMapService(store.TownMap(), redisClient)
	expeditionSvc := service.NewExpeditionService(store, redisClient, redisClient, wsHub)
	submissionSvc := service.NewSubmissionService(store, redisClient, redisClient, wsHub)
	conflictSvc := service.NewConflictService(store, redisClient, redisClient, wsHub)
	poiSvc := service.NewPOIService(store.POIs())

	// Rehydrate Redis tallies from Postgres after a restart.
	if err := conflictSvc.RecoverTallies(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover conflict tallies (non-fatal)")
	}

	// Handlers
	authHandler := handler.NewAuthHandler(googleOAuth, jwtMgr, store.Users(), cfg.DevMode)
	userHandler := handler.NewUserHandler(store.Users())
	hexHandler := handler.NewHexHandler(hexSvc)
	townHandler := handler.NewTownMapHandler(townSvc)
	expeditionHandler := handler.NewExpeditionHandler(expeditionSvc, submissionSvc)
	conflictHandler := handler.NewConflictHandler(conflictSvc)
	poiHandler := handler.NewPOIHandler(poiSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("GET /auth/google/login", authHandler.GoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", authHandler.GoogleCallback)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	gm := roleRoute(model.RoleGM, model.RoleAdmin)
	admin := roleRoute(model.RoleAdmin)

	api.HandleFunc("GET /users/me", userHandler.GetMe)
	api.HandleFunc("GET /users/{id}", userHandler.GetUser)

	api.Handle("GET /hexes", gm(hexHandler.ListHexes))
	api.Handle("POST /hexes", gm(hexHandler.CreateHex))
	api.HandleFunc("GET /hexes/distance", hexHandler.Distance)
	api.Handle("POST /hexes/generate-border", gm(hexHandler.GenerateBorder))
	api.Handle("GET /hexes/{q}/{r}", gm(hexHandler.GetHex))
	api.Handle("PUT /hexes/{q}/{r}", gm(hexHandler.UpdateHex))
	api.Handle("DELETE /hexes/{q}/{r}", admin(hexHandler.DeleteHex))
	api.Handle("POST /hexes/{q}/{r}/public", gm(hexHandler.MarkPublic))
	api.Handle("GET /hexes/{q}/{r}/neighbors", gm(hexHandler.Neighbors))
	api.Handle("POST /hexes/{q}/{r}/generate", gm(hexHandler.GenerateHex))

	api.HandleFunc("GET /town-map", townHandler.GetTownMap)
	api.HandleFunc("GET /town-map/disputed", townHandler.Disputed)
	api.HandleFunc("GET /town-map/{q}/{r}", townHandler.GetTownHex)
	api.HandleFunc("GET /town-map/{q}/{r}/history", townHandler.History)

	api.HandleFunc("GET /expeditions", expeditionHandler.ListExpeditions)
	api.HandleFunc("POST /expeditions", expeditionHandler.CreateExpedition)
	api.HandleFunc("GET /expeditions/mine", expeditionHandler.ListMine)
	api.HandleFunc("GET /expeditions/active", expeditionHandler.Active)
	api.HandleFunc("GET /expeditions/{id}", expeditionHandler.GetExpedition)
	api.HandleFunc("GET /expeditions/{id}/members", expeditionHandler.Members)
	api.HandleFunc("POST /expeditions/{id}/join", expeditionHandler.Join)
	api.HandleFunc("POST /expeditions/{id}/leave", expeditionHandler.Leave)
	api.HandleFunc("POST /expeditions/{id}/push", expeditionHandler.Push)
	api.HandleFunc("POST /expeditions/{id}/leader", expeditionHandler.ReassignLeader)
	api.HandleFunc("POST /expeditions/{id}/explore", expeditionHandler.Explore)
	api.HandleFunc("GET /expeditions/{id}/map", expeditionHandler.Map)
	api.HandleFunc("GET /expeditions/{id}/lost", expeditionHandler.Lost)
	api.Handle("POST /expeditions/{id}/position", gm(expeditionHandler.CorrectPosition))
	api.HandleFunc("POST /expeditions/{id}/complete", expeditionHandler.Complete)
	api.HandleFunc("POST /expeditions/{id}/submit", expeditionHandler.Submit)
	api.HandleFunc("GET /expeditions/{id}/submission", expeditionHandler.Submission)
	api.Handle("POST /expeditions/{id}/end", admin(expeditionHandler.End))
	api.Handle("POST /expeditions/{id}/archive", admin(expeditionHandler.Archive))

	api.HandleFunc("GET /conflicts", conflictHandler.ListOpen)
	api.HandleFunc("GET /conflicts/{id}", conflictHandler.GetConflict)
	api.HandleFunc("POST /conflicts/{id}/votes", conflictHandler.Vote)
	api.HandleFunc("GET /conflicts/{id}/tally", conflictHandler.Tally)
	api.Handle("POST /conflicts/{id}/resolve", gm(conflictHandler.Resolve))

	api.HandleFunc("GET /pois", poiHandler.ListKnown)
	api.Handle("GET /pois/all", gm(poiHandler.ListAll))
	api.Handle("POST /pois", gm(poiHandler.CreatePOI))
	api.Handle("POST /pois/{id}/verify", gm(poiHandler.Verify))

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux,
		middleware.Recover,
		middleware.Logger,
		middleware.CORS(cfg.CORSOrigins),
		middleware.LimitBody,
		middleware.JSON,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

// roleRoute wraps a handler func with a role check.
func roleRoute(roles ...string) func(http.HandlerFunc) http.Handler {
	require := auth.RequireRole(roles...)
	return func(h http.HandlerFunc) http.Handler {
		return require(h)
	}
}

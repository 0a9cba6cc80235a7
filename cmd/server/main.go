package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/shamsear/ssleague-api/internal/allocation"
	"github.com/shamsear/ssleague-api/internal/audit"
	"github.com/shamsear/ssleague-api/internal/auth"
	"github.com/shamsear/ssleague-api/internal/bidding"
	"github.com/shamsear/ssleague-api/internal/broadcast"
	"github.com/shamsear/ssleague-api/internal/config"
	"github.com/shamsear/ssleague-api/internal/crypto"
	"github.com/shamsear/ssleague-api/internal/database"
	"github.com/shamsear/ssleague-api/internal/finalize"
	"github.com/shamsear/ssleague-api/internal/identifier"
	"github.com/shamsear/ssleague-api/internal/league"
	"github.com/shamsear/ssleague-api/internal/resolver"
	"github.com/shamsear/ssleague-api/internal/rounds"
	"github.com/shamsear/ssleague-api/internal/tiebreaker"
	"github.com/shamsear/ssleague-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction API server with graceful shutdown
// support. It wires the database, the domain services and the finalization
// sweep, then exposes the API routes.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.Crypto.BidKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to generate bid encryption key")
		}
		cfg.Crypto.BidKey = key
		zlog.Warn().Msg("No bid encryption key configured, generated an ephemeral one; sealed bids will not survive a restart")
	}

	cipher, err := crypto.NewService(cfg.Crypto.BidKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize bid encryption")
	}

	router := gin.Default()

	authService := auth.NewService(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	authHandlers := auth.NewGinHandlers(authService)
	// Test credentials for local development and the simulation client
	if os.Getenv("ENV") != "production" {
		authService.RegisterAPICredentials(auth.TestTeamKey, auth.TestTeamSecret, auth.RoleTeam)
		authService.RegisterAPICredentials(auth.TestCommitteeKey, auth.TestCommitteeSecret, auth.RoleCommittee)
		for _, team := range []string{"TEAM_ALPHA", "TEAM_BRAVO", "TEAM_CHARLIE", "TEAM_DELTA"} {
			authService.RegisterAPICredentials(team, team+"-secret", auth.RoleTeam)
		}
	}

	idGen := identifier.NewGenerator(cfg.Identifier.Attempts, cfg.IdentifierBackoff())
	auditor := audit.NewSink(db)
	notifier := broadcast.NewLogNotifier()

	leagueService := league.NewService(db)
	leagueHandlers := league.NewGinHandlers(leagueService)

	roundsService := rounds.NewService(db, idGen)

	biddingService := bidding.NewService(db, cipher)
	biddingHandlers := bidding.NewGinHandlers(biddingService)

	resolverService := resolver.NewService(db, cipher)

	tiebreakerService := tiebreaker.NewService(db, cipher,
		cfg.TiebreakerWindow(), cfg.Tiebreaker.MaxAttempts)
	tiebreakerHandlers := tiebreaker.NewGinHandlers(tiebreakerService)

	allocationService := allocation.NewService(allocation.NewDatabase(db))
	allocationHandlers := allocation.NewGinHandlers(allocationService)

	finalizeService := finalize.NewService(finalize.NewDatabase(db),
		resolverService, tiebreakerService, allocationService, biddingService,
		notifier, auditor)
	finalizeHandlers := finalize.NewGinHandlers(finalizeService)

	roundsHandlers := rounds.NewGinHandlers(roundsService, finalizeService)

	// Sweep guarantees expired rounds finalize without reader traffic
	processor := finalize.NewProcessor(finalizeService, cfg.Scheduler.SweepCron)
	if err := processor.Start(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start finalization sweep")
	}
	defer processor.Stop()

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, leagueHandlers,
		roundsHandlers, biddingHandlers, tiebreakerHandlers,
		allocationHandlers, finalizeHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// Routes are grouped by audience:
// - Auth routes: public token endpoint
// - Team routes: protected by JWT authentication
// - Committee routes: additionally require the committee role
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	leagueHandlers *league.GinHandlers,
	roundsHandlers *rounds.GinHandlers,
	biddingHandlers *bidding.GinHandlers,
	tiebreakerHandlers *tiebreaker.GinHandlers,
	allocationHandlers *allocation.GinHandlers,
	finalizeHandlers *finalize.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		team := v1.Group("")
		team.Use(middleware.JWTAuth(jwtSecret))
		{
			team.GET("/rounds/:round_id", roundsHandlers.GetRoundHandler())
			team.GET("/rounds/:round_id/players", roundsHandlers.GetRoundPlayersHandler())
			team.GET("/rounds/:round_id/allocations", allocationHandlers.ListAllocationsHandler())

			team.POST("/rounds/:round_id/bids", biddingHandlers.PlaceBidHandler())
			team.DELETE("/rounds/:round_id/bids/:player_id", biddingHandlers.WithdrawBidHandler())
			team.GET("/rounds/:round_id/bids", biddingHandlers.ListTeamBidsHandler())

			team.POST("/tiebreakers/:tiebreaker_id/bids", tiebreakerHandlers.PlaceRebidHandler())

			team.GET("/budgets", leagueHandlers.GetBudgetsHandler())
		}

		committee := v1.Group("")
		committee.Use(middleware.CommitteeAuth(jwtSecret))
		{
			committee.POST("/seasons", leagueHandlers.CreateSeasonHandler())
			committee.POST("/seasons/:season_id/teams", leagueHandlers.RegisterTeamHandler())
			committee.POST("/seasons/:season_id/players", leagueHandlers.ImportPlayersHandler())

			committee.POST("/rounds", roundsHandlers.CreateRoundHandler())
			committee.POST("/rounds/:round_id/activate", roundsHandlers.ActivateRoundHandler())
			committee.POST("/rounds/:round_id/incomplete-fill", roundsHandlers.IncompleteFillHandler())

			committee.POST("/rounds/:round_id/finalize", finalizeHandlers.FinalizeRoundHandler())
			committee.POST("/rounds/:round_id/stage", finalizeHandlers.StageRoundHandler())
			committee.POST("/rounds/:round_id/apply", finalizeHandlers.ApplyStagedHandler())
			committee.POST("/tiebreakers/:tiebreaker_id/close", finalizeHandlers.CloseTiebreakerHandler())

			committee.POST("/adjustments", allocationHandlers.RecordAdjustmentHandler())
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/RogueTeam/8ball/cmd/gateway/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var app struct {
	debug   bool
	config  string
	envFile string
}

func parseFlags() {
	flagset := flag.NewFlagSet("gateway", flag.ExitOnError)
	flagset.BoolVar(&app.debug, "debug", false, "set debug mode")
	flagset.StringVar(&app.config, "config", "config.yaml", "YAML configuration")
	flagset.StringVar(&app.envFile, "env", ".env", "dotenv file loaded before the configuration")
	err := flagset.Parse(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse flags")
	}
}

func main() {
	parseFlags()

	err := godotenv.Load(app.envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to load env file")
	}

	configFile, err := os.Open(app.config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open config")
	}
	cfg, err := Load(configFile)
	configFile.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare logger")
	}
	if app.debug {
		logger = logger.Level(zerolog.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Logger = logger

	components, err := cfg.Compile(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to compile components")
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := gin.New()
	e.Use(gin.Recovery(), router.RequestLogger(&logger))
	var r = router.Router{
		ProcessInterval: cfg.ProcessInterval,
		Gateway:         components.Controller,
		Base:            e,
		ApiKey:          cfg.ApiKey,
		Logger:          &logger,
	}
	if cfg.Metrics {
		r.Metrics = components.Metrics.Handler()
	}
	r.Register()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Loop(ctx)
	}()
	if components.Ingest != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := components.Ingest.Run(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("ingest stopped")
				stop()
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info().Str("address", cfg.ListenAddress).Msg("starting http server")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to shutdown http server")
	}
	wg.Wait()
	logger.Info().Msg("stopped")
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"pdfhtmlgo/internal/api"
	"pdfhtmlgo/internal/config"
	"pdfhtmlgo/internal/converter"
	"pdfhtmlgo/internal/extractor"
	"pdfhtmlgo/internal/logging"
	"pdfhtmlgo/internal/pdfinput"
	"pdfhtmlgo/internal/registry"
	"pdfhtmlgo/internal/render"
	"pdfhtmlgo/internal/service/conversion"
	"pdfhtmlgo/internal/strategy"
	"pdfhtmlgo/internal/worker"
)

func main() {
	cfgPath := pflag.String("config", os.Getenv("PDFHTML_CONFIG"), "path to config.json or config.yaml")
	addr := pflag.String("addr", "", "listen address, overrides basic_config.server_address")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error")
	dev := pflag.Bool("dev", false, "human readable development logging")
	pflag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.BasicConfig.ServerAddress = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *dev {
		cfg.Log.Development = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("set GOMAXPROCS", zap.Error(err))
	}

	store, closeStore, err := registry.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("open registry", zap.String("backend", cfg.Registry.Backend), zap.Error(err))
	}
	defer closeStore()

	reg := registry.New(store, time.Duration(cfg.BasicConfig.AssetTTLSeconds)*time.Second, registry.WithLogger(logger))
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	reg.StartCleaner(cleanCtx, time.Duration(cfg.BasicConfig.CleanInterval)*time.Minute)

	jobs := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.Workers.MinWorkers,
		MaxWorkers:  cfg.Workers.MaxWorkers,
		QueueSize:   cfg.Workers.QueueSize,
		IdleTimeout: time.Duration(cfg.Workers.WorkerIdleSeconds) * time.Second,
	}, logger)
	defer jobs.Close()

	pdftohtml := converter.NewPdftohtml(
		cfg.Converter.Binary,
		time.Duration(cfg.Converter.TimeoutSeconds)*time.Second,
		cfg.Converter.Zoom,
		logger,
	)
	images := extractor.NewClient(time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second, logger)
	applier := strategy.NewApplier(render.NewFitzRenderer(cfg.Render.MaxOCRHeight), images, logger)
	service := conversion.NewService(pdftohtml, applier, reg, jobs, conversion.Options{
		UploadDir:  cfg.BasicConfig.UploadDir,
		OutputDir:  cfg.BasicConfig.OutputDir,
		DefaultDPI: cfg.Render.DefaultDPI,
		MaxDPI:     cfg.Render.MaxDPI,
		Remote: pdfinput.NewDownloader(
			time.Duration(cfg.RemotePDF.TimeoutSeconds)*time.Second,
			int64(cfg.RemotePDF.MaxSizeMB)<<20,
			logger,
		),
		CancelOnDisconnect: cfg.Converter.CancelOnDisconnect,
	}, logger)

	handlers := api.NewHandler(service, reg, cfg.BasicConfig.PublicBaseURL, int64(cfg.BasicConfig.MaxUploadMB)<<20, logger)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(logger), corsMiddleware(cfg.BasicConfig.CORSOrigins))
	router.MaxMultipartMemory = 8 << 20
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("registry", cfg.Registry.Backend),
			zap.Int("asset_ttl_seconds", cfg.BasicConfig.AssetTTLSeconds),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown", zap.Error(err))
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.ExposeHeaders = []string{"Content-Disposition"}
	return cors.New(cfg)
}

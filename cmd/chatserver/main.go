// Command chatserver runs the multi-tenant chat service core over a
// websocket transport: config load, dependency wiring, gin routes (socket
// upgrade, health, metrics) and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/latticechat/chatcore/internal/v1/auth"
	"github.com/latticechat/chatcore/internal/v1/chatservice"
	"github.com/latticechat/chatcore/internal/v1/config"
	"github.com/latticechat/chatcore/internal/v1/health"
	"github.com/latticechat/chatcore/internal/v1/logging"
	"github.com/latticechat/chatcore/internal/v1/middleware"
	"github.com/latticechat/chatcore/internal/v1/tracing"
)

func main() {
	loadDotEnv()

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting chatcore", zap.String("port", cfg.Port), zap.String("namespace", cfg.Namespace))

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "chatcore", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "tracing init failed, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	validator, err := newValidator(ctx, cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to build token validator", zap.Error(err))
	}

	svc, err := chatservice.NewChatService(cfg, validator)
	if err != nil {
		logging.Fatal(ctx, "failed to build chat service", zap.Error(err))
	}
	defer func() { _ = svc.Close() }()

	router := buildRouter(cfg, svc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	waitForShutdown(ctx, srv, cfg.CloseTimeout)
}

// loadDotEnv loads a .env file for local development, trying a few relative
// paths to cover both `go run ./cmd/chatserver` and running the built
// binary from its own directory. Missing in every location is not an
// error: production deployments set environment variables directly.
func loadDotEnv() {
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

// newValidator builds the JWT validator used to resolve a connecting
// socket's username, or a nil interface when SkipAuth trusts the "user"
// query param directly (local dev only). Returning an untyped nil here
// matters: a typed *auth.Validator(nil) would make the chatservice's own
// nil check on the interface value see a non-nil validator.
func newValidator(ctx context.Context, cfg *config.Config) (chatservice.TokenValidator, error) {
	if cfg.SkipAuth {
		return nil, nil
	}
	return auth.NewValidator(ctx, cfg.JWTIssuerDomain, cfg.JWTAudience)
}

func buildRouter(cfg *config.Config, svc *chatservice.ChatService) *gin.Engine {
	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("chatcore"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(cfg.AllowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
	}))

	healthHandler := health.NewHandler(svc.RedisService())
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET(svc.Namespace()+"/ws", svc.ServeWS)

	return router
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight HTTP
// requests within closeTimeout before returning.
func waitForShutdown(ctx context.Context, srv *http.Server, closeTimeout time.Duration) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "graceful shutdown failed", zap.Error(err))
	}
}

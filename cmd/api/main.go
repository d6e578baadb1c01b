package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/app"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/config"
	"github.com/imrishuroy/storefront-fulfillment/internal/handlers"
	"github.com/imrishuroy/storefront-fulfillment/internal/logging"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(cfg.Logger))

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, clients, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	r := setupRouter(a.HandlerConfig())

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server and tracking poller for development.
	if cfg.RunLocal {
		runLocal(ctx, cfg.Address, r, a, logger)
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if ferr := a.Recorder.Flush(ctx); ferr != nil {
			logger.WarnContext(ctx, "audit flush incomplete", "error", ferr)
		}
		return resp, err
	}, lambda.WithEnableSIGTERM(a.Close))
}

func runLocal(ctx context.Context, addr string, r *gin.Engine, a *app.App, logger *slog.Logger) {
	go a.Poller.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("running local server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to run local server", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"ncpwheels/internal/infra/config"
	grpcserver "ncpwheels/internal/infra/grpc"
	ginserver "ncpwheels/internal/infra/http/gin"
	"ncpwheels/internal/infra/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("messaging init failed", "error", err, "store", cfg.StoreDriver)
		os.Exit(1)
	}
	defer app.close()
	app.startBackground(ctx)

	httpServer := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, app.health, app.httpHandlers())

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen", "error", err, "addr", cfg.GRPCAddr)
			os.Exit(1)
		}
		grpcServer = grpcserver.NewServer(app.grpcService(), app.grpcAuth(), logger)
		go func() {
			logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc server failed", "error", err)
				stop()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		if grpcServer != nil {
			logger.Info("shutting down grpc server")
			grpcServer.GracefulStop()
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreDriver, "live_signals", cfg.LiveSignals)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()
	app.wait()
	logger.Info("messaging stopped")
}

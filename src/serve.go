package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbernhard/repairiq/src/api"
	"github.com/bbernhard/repairiq/src/commons"
	"github.com/bbernhard/repairiq/src/predict"
	"github.com/bbernhard/repairiq/src/relay"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var releaseMode bool
	var port int
	var modelPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the classification service and the phone relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := ctx.config
			if cmd.Flags().Changed("port") {
				config.Port = port
			}
			if cmd.Flags().Changed("model-path") {
				config.ModelPath = modelPath
			}
			if releaseMode || !config.IsDevelopment() {
				log.Info("[Main] Starting gin in release mode!")
				gin.SetMode(gin.ReleaseMode)
			}
			return serve(cmd.Context(), config)
		},
	}

	cmd.Flags().BoolVar(&releaseMode, "release", false, "Run in release mode")
	cmd.Flags().IntVar(&port, "port", 3000, "Port to listen on (overrides PORT)")
	cmd.Flags().StringVar(&modelPath, "model-path", "", "Model artifact directory (overrides MODEL_PATH)")

	return cmd
}

func newTokenStore(config commons.Config) (relay.TokenStore, func()) {
	if config.RedisAddress == "" {
		log.Debug("[Main] Keeping pairing tokens in memory")
		return relay.NewMemoryTokenStore(), func() {}
	}

	log.Debug("[Main] Keeping pairing tokens in redis at ", config.RedisAddress)
	redisPool := relay.NewRedisPool(config.RedisAddress, config.RedisMaxConnections)
	return relay.NewRedisTokenStore(redisPool), func() { redisPool.Close() }
}

func serve(ctx context.Context, config commons.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := predict.NewService(config.ModelPath, config.PredictWorkers, config.PredictQueueSize,
		predict.LoadOptions{OnnxSharedLibrary: config.OnnxRuntime})
	defer service.Close()
	loaded := service.LoadAsync()

	tokens, closeTokens := newTokenStore(config)
	defer closeTokens()

	r := relay.New(tokens, relay.Options{
		MaxPeers:        config.RelayMaxPeers,
		PongWait:        config.RelayPongWait,
		MaxMessageBytes: config.RelayMaxMessageBytes,
		SendBuffer:      config.RelaySendBuffer,
		AllowedOrigin:   config.CorsOrigin,
	})
	server := api.NewServer(config, service, r, relay.NewPairing(tokens, config.PairingTokenTtl))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{
			"port":        config.Port,
			"environment": config.Environment,
		}).Info("[Main] Listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-loaded:
			if err != nil {
				log.Error("[Main] Model failed to load, /predict stays unavailable: ", err.Error())
			}
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("[Main] Shutting down")

		// hijacked websocket connections aren't tracked by Shutdown
		r.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

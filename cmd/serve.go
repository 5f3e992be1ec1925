package main

import (
	"context"

	"github.com/OmGuptaIND/rekordr/api"
	"github.com/OmGuptaIND/rekordr/engine"
	"github.com/OmGuptaIND/rekordr/env"
	"github.com/OmGuptaIND/rekordr/logger"
	"github.com/OmGuptaIND/rekordr/pkg"
	"github.com/OmGuptaIND/rekordr/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = deps.Env.Port
			}

			return runServe(cmd.Context(), deps, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3000, "Port to listen on")

	return cmd
}

func runServe(parent context.Context, deps *Dependencies, port int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer deps.close()

	env.WatchEnvironment(deps.Logger, func(e *env.Env) {
		logger.SetLevel(e.LogLevel)
		deps.Logger.Info("log level updated", zap.String("level", logger.Level().String()))
	})

	if err := deps.launchScreen(); err != nil {
		return err
	}

	appStore := store.NewStore()

	apiServer := api.NewApiServer(ctx, api.ApiServerOptions{
		Logger: deps.Logger,
		Port:   port,
		Store:  appStore,
		Cloud:  deps.Cloud,
		NewEngine: func(req api.StartRecordingRequest) *engine.Engine {
			return deps.NewEngine(req.Mode, req.SkipWebcam)
		},
	})

	<-apiServer.Start()

	if val := pkg.WaitForShutdown(ctx, pkg.HandleSignal()); val != nil {
		deps.Logger.Info("shutting down", zap.String("signal", val.String()))
	}

	for _, e := range appStore.ListEngines() {
		if _, err := e.Stop(ctx); err != nil {
			deps.Logger.Warn("recording ended with an error", zap.String("id", e.ID), zap.Error(err))
		}
		e.Teardown()
	}

	return apiServer.Close()
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/keepmind9/neb/internal/core"
	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/plugins"
)

var (
	configFile string

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the neb bot",
		Long:  "Connect to the home server, register the enabled plugins and run the sync loop",
		Run: func(cmd *cobra.Command, args []string) {
			// Load configuration
			config, err := core.LoadConfig(configFile)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}

			fmt.Printf("Starting neb with config: %s\n", configFile)
			fmt.Printf("Home server: %s\n", config.HomeserverURL)
			fmt.Printf("User: %s\n", config.UserID)
			fmt.Printf("Command prefix: %s\n", config.CommandPrefix)
			if config.Webhook.IsEnabled() {
				fmt.Printf("Webhook address: %s\n", config.Webhook.Addr)
			}

			// Initialize logger
			logConfig := logger.Config{
				Level:        config.Logging.Level,
				File:         config.Logging.File,
				MaxSize:      config.Logging.MaxSize,
				MaxBackups:   config.Logging.MaxBackups,
				MaxAge:       config.Logging.MaxAge,
				Compress:     config.Logging.Compress,
				EnableStdout: config.Logging.EnableStdout,
			}
			if err := logger.InitLogger(logConfig); err != nil {
				log.Fatalf("Failed to initialize logger: %v", err)
			}

			logger.WithFields(logrus.Fields{
				"config_file": configFile,
				"log_level":   config.Logging.Level,
				"log_file":    config.Logging.File,
			}).Info("logger-initialized")

			client, err := matrix.NewClient(matrix.ClientConfig{
				HomeserverURL: config.HomeserverURL,
				UserID:        config.UserID,
				AccessToken:   config.AccessToken,
			})
			if err != nil {
				log.Fatalf("Failed to create Matrix client: %v", err)
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := client.Verify(ctx); err != nil {
				log.Fatalf("Failed to verify access token: %v", err)
			}

			engine := core.NewEngine(config, client)

			// Register plugins
			for _, name := range config.EnabledPlugins() {
				p, err := plugins.New(name, engine.PluginEnv(name))
				if err != nil {
					log.Fatalf("Failed to create plugin: %v", err)
				}
				if err := engine.RegisterPlugin(p); err != nil {
					log.Fatalf("Failed to register plugin %s: %v", name, err)
				}
				log.Printf("Registered %s plugin", name)
			}

			// Setup signal handling for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			engineErrChan := make(chan error, 1)
			go func() {
				fmt.Println("\nneb engine starting...")
				fmt.Println("Press Ctrl+C to stop")
				engineErrChan <- engine.Run(ctx)
			}()

			select {
			case sig := <-sigChan:
				log.Printf("Received signal: %v, shutting down gracefully...", sig)
				if err := engine.Stop(); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
				<-engineErrChan
			case err := <-engineErrChan:
				if err != nil {
					log.Fatalf("Engine error: %v", err)
				}
			}

			log.Println("neb stopped")
		},
	}
)

func init() {
	startCmd.Flags().StringVarP(&configFile, "config", "c", "neb.yaml", "Configuration file path")
}

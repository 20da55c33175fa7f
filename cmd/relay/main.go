package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/adcraftco/relay/pkg/logger"
	"github.com/adcraftco/relay/proxy"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	// Parse command line flags
	listenAddr := flag.String("listen", ":8080", "Address to listen on")
	upstreamURL := flag.String("upstream", "http://localhost/v1", "Workflow engine base URL")
	apiKey := flag.String("api-key", "", "Engine API key (prefer ENGINE_API_KEY)")
	dbPath := flag.String("db", "", "Path to SQLite database (default: in-memory)")
	defaultUser := flag.String("default-user", "web-visitor", "Caller identity used when the request carries none")
	configPath := flag.String("config", "", "Path to TOML config file")
	watchConfig := flag.Bool("watch-config", false, "Reload hot-reloadable config fields on file change")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Set up logger
	logger := logger.NewLogger(*debug)
	defer logger.Sync()

	config := proxy.Config{
		ListenAddr:  *listenAddr,
		UpstreamURL: *upstreamURL,
		APIKey:      *apiKey,
		DBPath:      *dbPath,
		DefaultUser: *defaultUser,
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ENGINE_API_KEY")
	}

	if *configPath != "" {
		fc, err := proxy.LoadConfigFile(*configPath)
		if err != nil {
			logger.Fatal("failed to load config file", zap.Error(err))
		}
		config.MergeFile(fc)
	}

	logger.Info("relay starting",
		zap.String("listen", config.ListenAddr),
		zap.String("upstream", config.UpstreamURL),
		zap.Bool("debug", *debug),
	)

	p, err := proxy.New(config, logger)
	if err != nil {
		logger.Fatal("failed to create relay", zap.Error(err))
	}
	defer p.Close()

	if *watchConfig {
		if *configPath == "" {
			logger.Fatal("-watch-config requires -config")
		}
		if err := proxy.WatchConfigFile(context.Background(), *configPath, logger, p.ApplyReload); err != nil {
			logger.Fatal("failed to watch config file", zap.Error(err))
		}
	}

	if err := p.Run(); err != nil {
		logger.Fatal("relay server failed", zap.Error(err))
	}
}

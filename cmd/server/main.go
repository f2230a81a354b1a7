//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/library"
	"github.com/himanishpuri/BeatPulse/pkg/logger"
)

var (
	port           int
	dbPath         string
	tempDir        string
	mediaDir       string
	allowedOrigins string
	logRequests    bool
	debug          bool
)

func init() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault(library.EnvDBPath, library.DefaultDBFile), "Path to SQLite database")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault(beatpulse.EnvTempDir, os.TempDir()), "Temporary directory")
	flag.StringVar(&mediaDir, "media", getEnvOrDefault("BEATPULSE_MEDIA_DIR", "media"), "Directory for uploaded tracks")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every HTTP request")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	if debug {
		logger.GetLogger().SetLevel(logger.DEBUG)
	}

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	lib, err := library.OpenPath(dbPath)
	if err != nil {
		log.Fatalf("Failed to open library: %v", err)
	}
	defer lib.Close()

	pipeline, err := beatpulse.NewPipeline(
		beatpulse.WithTempDir(tempDir),
		beatpulse.WithLogger(logger.GetLogger().Named("pipeline")),
	)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer pipeline.Close()

	media, err := filepath.Abs(mediaDir)
	if err != nil {
		log.Fatalf("Invalid media dir: %v", err)
	}

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		TempDir:        tempDir,
		MediaDir:       media,
		AllowedOrigins: origins,
		LogRequests:    logRequests,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(pipeline, lib, config)
	if err := server.Run(ctx); err != nil {
		log.Printf("Server failed: %v", err)
	}
}

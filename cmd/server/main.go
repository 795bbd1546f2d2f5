package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/account-backup-manager/internal/api"
	"github.com/yourusername/account-backup-manager/internal/config"
	"github.com/yourusername/account-backup-manager/internal/crypto"
	"github.com/yourusername/account-backup-manager/internal/database"
	"github.com/yourusername/account-backup-manager/internal/destination"
	"github.com/yourusername/account-backup-manager/internal/engine"
	"github.com/yourusername/account-backup-manager/internal/logging"
	"github.com/yourusername/account-backup-manager/internal/manifest"
	"github.com/yourusername/account-backup-manager/internal/notify"
	"github.com/yourusername/account-backup-manager/internal/oplog"
	"github.com/yourusername/account-backup-manager/internal/tools"
	"github.com/yourusername/account-backup-manager/internal/transport"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	// Check if running migrations
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg)
		return
	}

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations automatically
	log.Println("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")

	// Credentials-at-rest encryption
	encryptionManager, err := crypto.NewEncryptionManager()
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v", err)
	}

	destinationStore := destination.NewStore(db.DB, encryptionManager)
	manifestStore := manifest.NewStore(db.DB)
	opLogger := oplog.NewDBLogger(db.DB)
	cancelStore := engine.NewDBCancelStore(db.DB)

	// Notification dispatcher
	var channels []notify.Channel
	if cfg.Notifications.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notifications.WebhookURL))
	}
	dispatcher := notify.NewDispatcher(
		&notify.ConfigPreferences{Preferences: cfg.Notifications.Preferences},
		channels...,
	)

	// External tool adapters
	archiver := tools.NewArchiver(cfg.Tools.ArchiveCommand, cfg.Backups.ArchiveOptions)
	restorer := tools.NewRestorer(cfg.Tools.RestoreCommand)
	hotDB := tools.NewHotDB(cfg.Tools.DBBackupCommand, cfg.Tools.DBRestoreCommand)

	transportFactory := func(dest *destination.Destination) (transport.Transport, error) {
		return transport.New(dest, transport.Options{
			BridgeCommand: cfg.Tools.BridgeCommand,
			Keys:          encryptionManager,
		})
	}

	backupOrchestrator := engine.NewBackupOrchestrator(engine.BackupDeps{
		Destinations: destinationStore,
		Transports:   transportFactory,
		Archiver:     archiver,
		HotDB:        hotDB,
		Manifest:     manifestStore,
		Notifier:     dispatcher,
		OpLog:        opLogger,
		Cancels:      cancelStore,
		StagingDir:   cfg.Storage.StagingDir,
		JobLogDir:    cfg.Storage.JobLogDir,
		HotDBBackups: cfg.Backups.DBBackupMethod == "hot",
	})

	restoreOrchestrator := engine.NewRestoreOrchestrator(engine.RestoreDeps{
		Destinations: destinationStore,
		Transports:   transportFactory,
		Restorer:     restorer,
		HotDB:        hotDB,
		Notifier:     dispatcher,
		OpLog:        opLogger,
		StagingDir:   cfg.Storage.StagingDir,
		JobLogDir:    cfg.Storage.JobLogDir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single-worker job runner: one backup or restore at a time
	runner := engine.NewRunner(32)
	runner.Start(ctx)

	// Retention pruner on its configured cadence
	prunerFactory := func(destID string) (transport.Transport, error) {
		dest, err := destinationStore.Get(destID)
		if err != nil {
			return nil, err
		}
		return transportFactory(dest)
	}
	pruner := manifest.NewPruner(manifestStore, prunerFactory, cfg.Backups.PruneSchedule)
	pruner.Start(ctx)

	// WebSocket hub for live job-log viewers
	log.Println("Initializing WebSocket hub...")
	hub := websocket.NewHub()
	go hub.Run(ctx)

	log.Println("All components initialized successfully")

	router := api.SetupRouter(api.Deps{
		Config:       cfg,
		Backups:      backupOrchestrator,
		Restores:     restoreOrchestrator,
		Runner:       runner,
		Cancels:      cancelStore,
		Destinations: destinationStore,
		Manifest:     manifestStore,
		Pruner:       pruner,
		OpLog:        opLogger,
		Hub:          hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func setupLogging(cfg *config.Config) error {
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "server.log")
	}
	if cfg != nil && strings.TrimSpace(cfg.Logging.File) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func runMigrations(cfg *config.Config) {
	log.Println("Running database migrations...")

	db, err := database.NewDB(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}

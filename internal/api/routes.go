package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/account-backup-manager/internal/api/handlers"
	"github.com/yourusername/account-backup-manager/internal/api/middleware"
	"github.com/yourusername/account-backup-manager/internal/config"
	"github.com/yourusername/account-backup-manager/internal/destination"
	"github.com/yourusername/account-backup-manager/internal/engine"
	"github.com/yourusername/account-backup-manager/internal/manifest"
	"github.com/yourusername/account-backup-manager/internal/oplog"
	"github.com/yourusername/account-backup-manager/internal/websocket"
)

// Deps bundles everything the HTTP layer serves
type Deps struct {
	Config       *config.Config
	Backups      *engine.BackupOrchestrator
	Restores     *engine.RestoreOrchestrator
	Runner       *engine.Runner
	Cancels      engine.Canceller
	Destinations *destination.Store
	Manifest     *manifest.Store
	Pruner       *manifest.Pruner
	OpLog        oplog.Logger
	Hub          *websocket.Hub
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(deps Deps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	backupHandler := handlers.NewBackupHandler(deps.Backups, deps.Runner, deps.Cancels, deps.Hub, deps.Config.Storage.JobLogDir)
	restoreHandler := handlers.NewRestoreHandler(deps.Restores, deps.Runner, deps.Hub, deps.Config.Storage.JobLogDir)
	destinationHandler := handlers.NewDestinationHandler(deps.Destinations)
	operationsHandler := handlers.NewOperationsHandler(deps.OpLog, deps.Manifest, deps.Pruner, deps.Hub)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/backups", backupHandler.CreateBackup)
		v1.POST("/backups/:jobId/cancel", backupHandler.CancelBackup)

		v1.POST("/restores", restoreHandler.CreateRestore)

		v1.GET("/jobs/queue", backupHandler.GetQueueStatus)
		v1.GET("/jobs/:jobId/log", backupHandler.GetJobLog)

		destinations := v1.Group("/destinations")
		{
			destinations.GET("", destinationHandler.ListDestinations)
			destinations.GET(":id", destinationHandler.GetDestination)
			destinations.PUT(":id", destinationHandler.SaveDestination)
			destinations.DELETE(":id", destinationHandler.DeleteDestination)
		}

		v1.GET("/operations", operationsHandler.ListOperations)
		v1.GET("/accounts/:account/archives", operationsHandler.ListArchives)
		v1.POST("/retention/prune", operationsHandler.PruneArchives)

		// WebSocket live job-log tail
		v1.GET("/ws/jobs/:jobId", operationsHandler.HandleJobLogWebSocket)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}

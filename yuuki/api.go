package yuuki

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the loopback status/control HTTP server. It has no
// authentication; bind it to localhost (the default) or a unix socket.
type API struct {
	config  *APIConfig
	discord *Discord
	logger  *slog.Logger

	startedAt time.Time
	server    *http.Server
}

func newAPI(config *APIConfig, discord *Discord, logger *slog.Logger) *API {
	api := &API{
		config:  config,
		discord: discord,
		logger:  logger.With(loggerNameKey, "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/health", api.getHealth)
	router.GET("/api/status", api.getStatus)
	router.POST("/api/pause", api.postPause)
	router.POST("/api/resume", api.postResume)

	api.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return api
}

// Serve listens on the configured address until ctx is canceled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return err
	}
	a.startedAt = time.Now()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down api server", tint.Err(err))
		}
	}()

	a.logger.Info("api server listening", "address", a.config.Listen)
	if err := a.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected":        a.discord.connected.Load(),
		"paused":           a.discord.Paused(),
		"connects":         a.discord.metricConnects.Load(),
		"disconnects":      a.discord.metricDisconnects.Load(),
		"commands_handled": a.discord.metricCommandsHandled.Load(),
		"uptime":           time.Since(a.startedAt).Round(time.Second).String(),
	})
}

func (a *API) postPause(c *gin.Context) {
	a.discord.Pause()
	a.logger.Warn("command dispatch paused via api")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (a *API) postResume(c *gin.Context) {
	a.discord.Resume()
	a.logger.Info("command dispatch resumed via api")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

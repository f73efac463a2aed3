// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridematch/internal/http/handlers"
	"ridematch/internal/http/middleware"
)

// RouterDeps carries everything the routes need. Optional collaborators are
// left nil when the matching backend is not configured.
type RouterDeps struct {
	Auth        gin.HandlerFunc
	Log         *zap.SugaredLogger
	Matching    handlers.MatchingService
	History     handlers.HistoryLister
	Presence    handlers.PresenceService
	Websocket   handlers.WebsocketServer
	Connections handlers.ConnectionRegistry
	Redis       handlers.Pinger
	DB          handlers.Pinger
	Sessions    func() int
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Log), middleware.Recovery(deps.Log))

	health := handlers.NewHealthHandler(deps.Redis, deps.DB, deps.Sessions)
	r.GET("/health", health.Live)
	r.GET("/health/redis", health.Redis)
	r.GET("/health/db", health.DB)

	api := r.Group("/api", deps.Auth)

	matchingHandler := handlers.NewMatchingHandler(deps.Matching, deps.History)
	api.POST("/matching/find-driver", matchingHandler.FindDriver)
	api.POST("/matching/confirm", middleware.RejectRole("passenger"), matchingHandler.Confirm)
	api.GET("/matching/:rideId/status", matchingHandler.Status)
	api.GET("/matching/:rideId/history", matchingHandler.History)
	api.DELETE("/matching/:rideId", matchingHandler.Cancel)

	drivers := api.Group("/drivers/:id", middleware.RejectRole("passenger"))
	if deps.Presence != nil {
		locationHandler := handlers.NewLocationHandler(deps.Presence)
		drivers.PUT("/presence", locationHandler.Update)
		drivers.DELETE("/presence", locationHandler.Offline)
	}
	driverHandler := handlers.NewDriverHandler(deps.Websocket, deps.Connections, deps.Log)
	drivers.PUT("/connection", driverHandler.RegisterConnection)
	drivers.DELETE("/connection", driverHandler.UnregisterConnection)

	r.GET("/ws/drivers/:id", deps.Auth, middleware.RejectRole("passenger"), driverHandler.Connect)

	return r
}

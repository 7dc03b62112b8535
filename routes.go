package main

import (
	"net/http"

	"chatwave/middleware"
	"chatwave/middleware/security"
	"chatwave/module/presence"
	"chatwave/module/unread"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine builds the HTTP surface: REST api, websocket endpoints, health and metrics.
func (rt *Runtime) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Origin(rt.conf.HTTP.AllowedOrigins))

	auth := middleware.NewManager(
		security.Middleware(security.Options{Authenticate: rt.authenticate}),
		middleware.RecordActivity(rt.Presence),
	)
	routes := middleware.NewRouter(r, auth)

	unreadH := unread.NewHandler(rt.Unread)
	routes.GET("/api/unread", unreadH.List, middleware.RouteOpt{IsAuth: true})
	routes.POST("/api/unread", unreadH.Create, middleware.RouteOpt{IsAuth: true})
	routes.POST("/api/unread/ack", unreadH.Ack, middleware.RouteOpt{IsAuth: true})
	presenceH := presence.NewHandler(rt.Presence, rt.onlineCounter())
	routes.POST("/api/users/last_online", presenceH.LastOnline, middleware.RouteOpt{IsAuth: true})
	routes.POST("/api/users/online", presenceH.Online, middleware.RouteOpt{IsAuth: true})

	// sessions authenticate themselves, the unread one may get its token in the first frame
	r.GET("/ws/presence", rt.Live.HandlePresence)
	r.GET("/ws/unread", rt.Live.HandleUnread)

	r.GET("/healthz", rt.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.metrics.Registry, promhttp.HandlerOpts{})))
	return r
}

func (rt *Runtime) healthz(c *gin.Context) {
	h := rt.Supervisor.Health()
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"listeners": h.Snapshot(),
		"sessions":  rt.Live.Count(),
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/pkg/jwt"
)

type RouterDeps struct {
	Auth           *AuthHandler
	Documents      *DocumentHandler
	Query          *QueryHandler
	Health         *HealthHandler
	JWTSecret      []byte
	QueryRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", deps.Health.Healthz)
	api.POST("/auth/token", deps.Auth.Token)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/query", middleware.RateLimit(deps.QueryRateLimit), deps.Query.Ask)
	authGroup.POST("/documents", middleware.RequireRole(jwt.RoleAdmin), deps.Documents.Upload)
}

// NewRootHandler mounts the prometheus endpoint next to the API engine.
func NewRootHandler(api http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api)
	return mux
}

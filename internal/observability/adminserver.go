package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminVersion = "0.0.1"

// StatusFunc supplies the /status payload. The admin server never reaches
// into the relay directly; the owning process injects a snapshot source.
type StatusFunc func() any

// AdminServer exposes the read-only operational surface: health, readiness,
// Prometheus metrics, and a relay status snapshot. It is optional; processes
// that never call NewAdminServer serve no HTTP at all.
type AdminServer struct {
	App     string
	Addr    string
	Started time.Time

	status StatusFunc
	router *gin.Engine
}

func NewAdminServer(app, addr string, corsOrigins []string, status StatusFunc) *AdminServer {
	RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(app))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &AdminServer{
		App:     app,
		Addr:    addr,
		Started: time.Now(),
		status:  status,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *AdminServer) Router() *gin.Engine {
	return s.router
}

func (s *AdminServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"app":     s.App,
			"version": adminVersion,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Started).String(),
			"app":     s.App,
			"version": adminVersion,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		if s.status == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status source attached"})
			return
		}
		c.JSON(http.StatusOK, s.status())
	})
}

func (s *AdminServer) Serve() error {
	return s.router.Run(s.Addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

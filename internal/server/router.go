package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/stackd/internal/metrics"
	"github.com/loykin/stackd/internal/status"
)

// Source supplies the live snapshot the API serves. The lifecycle
// controller satisfies it while start runs in the foreground.
type Source interface {
	StatusSnapshot() status.Snapshot
}

// Handler returns the embedded status API:
//
//	GET /status   system snapshot, 503 when any unit is unhealthy/failed
//	GET /healthz  supervisor's own liveness
//	GET /metrics  Prometheus metrics
func Handler(src Source) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/status", func(c *gin.Context) {
		snap := src.StatusSnapshot()
		code := http.StatusOK
		if !snap.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, snap)
	})
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// New starts a standalone status server on addr. Shut it down through the
// returned http.Server.
func New(addr string, src Source) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(src),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

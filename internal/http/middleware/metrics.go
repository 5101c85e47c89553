// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus instrumentation for REST traffic. Labels
// are the method, the registered Gin route (raw path only when nothing
// matched) and the numeric status.
//
// Socket upgrades on /ws/widget and /ws/operator are not requests in the
// latency sense: the handler returns only when the socket closes. They are
// counted once in http_socket_upgrades_total and never enter the latency,
// size or in-flight collectors. Open sockets are tracked by the gateway in
// ws_connections.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Session and history payloads; a full history page is the upper end.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20,
			},
		},
		[]string{"method", "path"},
	)

	httpUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_socket_upgrades_total",
			Help: "WebSocket upgrade requests by route and handshake status.",
		},
		[]string{"path", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpUpgrades)
}

// Metrics instruments REST requests and counts socket upgrades.
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if websocket.IsWebSocketUpgrade(c.Request) {
			c.Next()
			httpUpgrades.WithLabelValues(path, upgradeStatus(c)).Inc()
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// upgradeStatus reports "101" for a hijacked connection. A handshake the
// upgrader refused was answered through the writer with a 4xx. gin marks a
// hijacked writer as written without changing its status.
func upgradeStatus(c *gin.Context) string {
	st := c.Writer.Status()
	if st == http.StatusOK && c.Writer.Written() {
		st = http.StatusSwitchingProtocols
	}
	return strconv.Itoa(st)
}

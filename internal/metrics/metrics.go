package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of authenticated websocket connections",
	})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Current number of rooms with at least one member",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages broadcast",
	})
	WavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_waves_total",
		Help: "Total number of waves delivered",
	})
	EventErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_event_errors_total",
		Help: "Total number of client events rejected, by error code",
	}, []string{"code"})
	DroppedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_frames_total",
		Help: "Frames that could not be queued for a peer",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_throttled_total",
		Help: "Requests rejected by the API rate limiter",
	})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, RoomsActive, WsMessagesTotal, WavesTotal,
		EventErrorsTotal, DroppedFramesTotal, HttpRequestsTotal, HttpThrottledTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

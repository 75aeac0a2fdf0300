package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timechat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timechat_ws_events_total",
		Help: "Total number of events delivered to websocket connections",
	}, []string{"event"})
	WsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timechat_ws_dropped_connections_total",
		Help: "Connections closed because their outbound queue was full",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timechat_messages_total",
		Help: "Total number of chat messages stored",
	}, []string{"type"})
	InviteRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timechat_invite_redemptions_total",
		Help: "Invite code redemptions by outcome",
	}, []string{"outcome"})
	SweptRoomsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timechat_swept_rooms_total",
		Help: "Expired rooms removed by the cleanup sweep",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsEventsTotal, WsDroppedTotal,
		MessagesTotal, InviteRedemptionsTotal, SweptRoomsTotal,
		HttpRequestsTotal, HttpRequestDuration,
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
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

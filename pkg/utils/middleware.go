package utils

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const RequestIDHeader = "X-Request-ID"

// Logger tags every request with an id and logs method, path, status and
// latency after the handler chain runs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if len(c.Errors) > 0 {
			klog.ErrorS(c.Errors.Last(), "request failed",
				"requestID", requestID, "method", c.Request.Method,
				"path", c.Request.URL.Path, "status", status, "latency", latency)
			return
		}
		klog.InfoS("request",
			"requestID", requestID, "method", c.Request.Method,
			"path", c.Request.URL.Path, "status", status, "latency", latency)
	}
}

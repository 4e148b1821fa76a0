package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/warrant-risk-engine/config"
	"github.com/rzzdr/warrant-risk-engine/pkg/metrics"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// LoggingMiddleware logs request information
func LoggingMiddleware() gin.HandlerFunc {
	log := logger.GetLogger("api.middleware")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Infof("%s %s [%d] %v", method, path, c.Writer.Status(), time.Since(start))
	}
}

// MetricsMiddleware captures API metrics
func MetricsMiddleware(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		c.Next()

		recorder.RecordAPIRequest(method, path, c.Writer.Status(), time.Since(start))
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	origins := "*"
	if len(cfg.AllowedOrigins) == 1 {
		origins = cfg.AllowedOrigins[0]
	}
	methods := "GET, POST, OPTIONS"
	headers := "Content-Type, Authorization"

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origins)
		c.Writer.Header().Set("Access-Control-Allow-Methods", methods)
		c.Writer.Header().Set("Access-Control-Allow-Headers", headers)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ErrorMiddleware catches panics and returns an error response
func ErrorMiddleware() gin.HandlerFunc {
	log := logger.GetLogger("api.error")

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("API panic recovered: %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"error": fmt.Sprintf("Internal server error: %v", err),
				})
			}
		}()

		c.Next()
	}
}

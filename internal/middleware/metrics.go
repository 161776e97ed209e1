package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messenger/pkg/telemetry"
)

func Metrics(metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Метка по шаблону роута, не по сырому пути - иначе кардинальность
		// взорвется на ID в URL
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all intent routes with the router.
//
// Description:
//
//	Registers the /v1/intent/* endpoints with the given Gin router
//	group. The group should already carry any shared middleware.
//
// Endpoints:
//
//	POST /v1/intent/classify - Classify one utterance
//	GET  /v1/intent/status/:id - Poll an escalated request
//	GET  /v1/intent/cache/stats - Cache hit statistics
//	GET  /v1/intent/cost/summary - LLM spend rollups
//	POST /v1/intent/config/variant - Switch the active variant
//	GET  /v1/intent/health - Liveness
//	GET  /v1/intent/ready - Readiness
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	intent := rg.Group("/intent")
	{
		intent.POST("/classify", handlers.HandleClassify)
		intent.GET("/status/:id", handlers.HandleStatus)

		intent.GET("/cache/stats", handlers.HandleCacheStats)
		intent.GET("/cost/summary", handlers.HandleCostSummary)
		intent.POST("/config/variant", handlers.HandleSwitchVariant)

		intent.GET("/health", handlers.HandleHealth)
		intent.GET("/ready", handlers.HandleReady)
	}
}

// ThrottleMiddleware sheds load once the process-wide request rate is
// exceeded. rps <= 0 disables the middleware.
func ThrottleMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = int(rps)
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

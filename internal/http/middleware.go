package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// withCORS applies a corsPolicy and answers preflight requests.
func withCORS(policy corsPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		if originRaw := r.Header.Get("Origin"); originRaw != "" {
			origin := normalizeOrigin(originRaw)
			if origin == "" {
				c.AbortWithStatusJSON(http.StatusForbidden, extensionResponse{Error: "forbidden origin"})
				return
			}
			if policy.allowedOrigins != nil {
				if _, ok := policy.allowedOrigins[origin]; !ok {
					c.AbortWithStatusJSON(http.StatusForbidden, extensionResponse{Error: "forbidden origin"})
					return
				}
			}

			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			if policy.allowMethods != "" {
				h.Set("Access-Control-Allow-Methods", policy.allowMethods)
			}
			if policy.allowHeaders != "" {
				h.Set("Access-Control-Allow-Headers", policy.allowHeaders)
			} else if reqHdrs := r.Header.Get("Access-Control-Request-Headers"); reqHdrs != "" {
				h.Set("Access-Control-Allow-Headers", reqHdrs)
			}
			if policy.maxAge > 0 {
				h.Set("Access-Control-Max-Age", fmt.Sprintf("%d", policy.maxAge))
			}
		}

		if r.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}

// corsByPath picks the extension policy for relay routes and the agent UI
// allowlist for everything else. It runs on unmatched routes too, so
// preflights for POST-only routes are answered.
func (s *Server) corsByPath() gin.HandlerFunc {
	ext := withCORS(corsPolicy{
		allowMethods: "GET,POST,OPTIONS",
		maxAge:       600,
	})
	ui := cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := s.uiAllowedOrigins[normalizeOrigin(origin)]
			return ok
		},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", agentSessionHeader},
		MaxAge:       10 * time.Minute,
	})

	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/relay/") || strings.HasPrefix(p, "/extension/") {
			ext(c)
			return
		}
		ui(c)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func loopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopbackRequest(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, extensionResponse{Error: "forbidden"})
			return
		}
		if !isSafeLocalHost(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, extensionResponse{Error: "forbidden host"})
			return
		}
	}
}

func (s *Server) agentGuards() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(agentSessionHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.agentSessionToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, extensionResponse{Error: "unauthorized"})
			return
		}
	}
}

func (s *Server) extensionPairedGuards() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := loadPairingToken(s.pairingTokenPath)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPreconditionRequired, extensionResponse{Error: "extension not paired"})
			return
		}
		got := c.GetHeader(extensionPairHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warn("extension token rejected", "remote", c.Request.RemoteAddr)
			c.AbortWithStatusJSON(http.StatusUnauthorized, extensionResponse{Error: "unauthorized"})
			return
		}
	}
}

// Package chatrelay wires the relay's HTTP surface: the WebSocket endpoint,
// the REST message history/deletion API, health checks, and Prometheus
// metrics. The connection registry, router, and presence broadcaster are
// constructed here as explicit instances and passed by reference; nothing
// lives in package-level state.
package chatrelay

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/real-rm/chatrelay/internal/auth"
	"github.com/real-rm/chatrelay/internal/config"
	"github.com/real-rm/chatrelay/internal/constants"
	"github.com/real-rm/chatrelay/internal/metrics"
	"github.com/real-rm/chatrelay/internal/presence"
	"github.com/real-rm/chatrelay/internal/ratelimit"
	"github.com/real-rm/chatrelay/internal/registry"
	"github.com/real-rm/chatrelay/internal/router"
	"github.com/real-rm/chatrelay/internal/store"
	"github.com/real-rm/chatrelay/internal/util"
	"github.com/real-rm/chatrelay/internal/websocket"
)

// Service holds the relay's long-lived components for lifecycle management.
type Service struct {
	wsHandler *websocket.Handler
	limiter   *ratelimit.EventLimiter
	logger    *zap.SugaredLogger
}

// Register builds the relay components and registers all routes on the
// given engine. The returned Service owns shutdown.
func Register(r *gin.Engine, cfg *config.Config, logger *zap.SugaredLogger, st store.Store) (*Service, error) {
	relayLogger := logger.Named("chatrelay")

	verifier := auth.NewVerifier(cfg.Server.JWTSecret)
	reg := registry.New()
	broadcaster := presence.NewBroadcaster(reg, relayLogger)

	limiter := ratelimit.NewEventLimiter(cfg.RateLimit.Window, cfg.RateLimit.EventsPerWindow)
	limiter.StartCleanup()

	eventRouter := router.New(verifier, st, reg, broadcaster, limiter, cfg.Database.StoreTimeout, relayLogger)

	wsHandler := websocket.NewHandler(eventRouter, relayLogger, cfg.Server.MaxMessageSize, cfg.Server.AuthWindow)
	wsHandler.SetAllowedOrigins(cfg.Server.AllowedOrigins)

	// Configure CORS middleware
	// No else needed: optional operation (CORS only when origins configured)
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig := cors.Config{
			AllowOrigins:     cfg.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsConfig))

		relayLogger.Infow("CORS middleware configured",
			"allowed_origins", cfg.Server.AllowedOrigins,
			"allow_credentials", true)
	} else {
		relayLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			relayLogger.Warnw("Failed to set trusted proxies", "error", err)
		} else {
			relayLogger.Infow("Trusted proxies configured", "proxies", cfg.Server.TrustedProxies)
		}
	}

	// Apply security headers middleware
	r.Use(securityHeadersMiddleware())

	// Apply metrics middleware to record HTTP request duration
	r.Use(metricsMiddleware())

	relayLogger.Infow("Using HTTP path prefix", "prefix", cfg.Server.PathPrefix)

	// Register routes
	relayGroup := r.Group(cfg.Server.PathPrefix)
	{
		// WebSocket endpoint. Authentication is in-band: the socket is
		// admitted unauthenticated and must present an auth event.
		relayGroup.GET("/ws", func(c *gin.Context) {
			wsHandler.HandleWebSocket(c.Writer, c.Request)
		})

		// REST message API (authenticated via bearer token)
		apiGroup := relayGroup.Group("/api")
		apiGroup.Use(bearerAuthMiddleware(verifier, relayLogger))
		{
			apiGroup.GET("/messages/:userID", handleListMessages(st, cfg.Database.StoreTimeout, relayLogger))
			apiGroup.DELETE("/messages/:id", handleDeleteMessage(st, cfg.Database.StoreTimeout, relayLogger))
		}

		// Health check endpoints
		relayGroup.GET("/healthz", handleHealthCheck)
		relayGroup.GET("/readyz", handleReadyCheck(st, relayLogger))

		// Prometheus metrics endpoint, restricted to configured networks
		metricsNets := parseNetworks(constants.DefaultMetricsAllowedNetworks, relayLogger)
		relayGroup.GET("/metrics/prometheus",
			metricsNetworkMiddleware(metricsNets, relayLogger),
			gin.WrapH(promhttp.Handler()),
		)
	}

	relayLogger.Infow("Chatrelay service registered successfully",
		"websocket_endpoint", cfg.Server.PathPrefix+"/ws",
		"api_endpoints", cfg.Server.PathPrefix+"/api/messages",
		"health_endpoints", cfg.Server.PathPrefix+"/healthz, "+cfg.Server.PathPrefix+"/readyz",
		"metrics_endpoint", cfg.Server.PathPrefix+"/metrics/prometheus",
	)

	return &Service{
		wsHandler: wsHandler,
		limiter:   limiter,
		logger:    relayLogger,
	}, nil
}

// Shutdown gracefully stops background work and closes all live connections.
func (s *Service) Shutdown(ctx context.Context) error {
	s.limiter.StopCleanup()
	return s.wsHandler.ShutdownWithContext(ctx)
}

// securityHeadersMiddleware adds standard security headers to all responses
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		// No else needed: unmatched routes keep the raw path empty
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// bearerAuthMiddleware authenticates REST requests with the same verifier
// used by the WebSocket auth event and stores the user id in the context.
func bearerAuthMiddleware(verifier *auth.Verifier, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		// No else needed: early return pattern (guard clause)
		if len(authHeader) <= constants.BearerPrefixLength ||
			!strings.HasPrefix(authHeader, constants.BearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": constants.ErrMsgInvalidAuthHeader,
			})
			return
		}

		userID, err := verifier.VerifyToken(authHeader[constants.BearerPrefixLength:])
		// No else needed: early return pattern (guard clause)
		if err != nil {
			logger.Warnw("REST authentication failed",
				"error", err,
				"path", c.FullPath(),
				"component", "http")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": constants.ErrMsgInvalidToken,
			})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// handleListMessages returns the two-way conversation between the
// authenticated user and the user named in the path.
func handleListMessages(st store.Store, timeout time.Duration, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID := c.GetInt64("userID")

		otherUserID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user id"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		messages, err := st.ListConversation(ctx, currentUserID, otherUserID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			util.LogError(logger, "http", "list conversation", err,
				"user_id", currentUserID,
				"other_user_id", otherUserID)
			c.JSON(http.StatusInternalServerError, gin.H{"message": constants.ErrMsgInternalError})
			return
		}

		c.JSON(constants.StatusOK, messages)
	}
}

// handleDeleteMessage tombstones a message over REST. Ownership denial is
// explicit here: a conditional update matching no row yields 403.
func handleDeleteMessage(st store.Store, timeout time.Duration, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUserID := c.GetInt64("userID")

		messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid message id"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		err = st.TombstoneMessage(ctx, messageID, currentUserID)
		switch {
		case err == nil:
			c.JSON(constants.StatusOK, gin.H{
				"message":   "Message deleted",
				"messageId": messageID,
			})
		case err == store.ErrNotOwner:
			c.JSON(constants.StatusForbidden, gin.H{"message": constants.ErrMsgNotOwner})
		default:
			util.LogError(logger, "http", "delete message", err,
				"user_id", currentUserID,
				"message_id", messageID)
			c.JSON(http.StatusInternalServerError, gin.H{"message": constants.ErrMsgInternalError})
		}
	}
}

// handleHealthCheck responds to liveness probes
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck responds to readiness probes by pinging the store
func handleReadyCheck(st store.Store, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
		defer cancel()

		// No else needed: early return pattern (guard clause)
		if err := st.Ping(ctx); err != nil {
			util.LogError(logger, "http", "ping store for readiness", err)
			c.JSON(constants.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}

		c.JSON(constants.StatusOK, gin.H{"status": "ready"})
	}
}

// parseNetworks parses a comma-separated CIDR list, skipping invalid entries
func parseNetworks(networksStr string, logger *zap.SugaredLogger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(networksStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		// No else needed: error handling with continue (skips bad entry)
		if err != nil {
			logger.Warnw("Skipping invalid metrics network", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts the metrics endpoint to allowed networks
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		// No else needed: early return pattern (guard clause)
		if ip == nil {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(ip) {
				c.Next()
				return
			}
		}

		logger.Warnw("Metrics request from disallowed network",
			"client_ip", c.ClientIP())
		c.AbortWithStatus(http.StatusForbidden)
	}
}

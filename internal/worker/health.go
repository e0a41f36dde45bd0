package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/internal/worker/storage"
	"github.com/gin-gonic/gin"
)

// Check reports the health of one dependency
type Check func(ctx context.Context) error

// DeliveryLister reads recorded delivery outcomes
type DeliveryLister interface {
	ListByEmail(ctx context.Context, email string, limit int) ([]storage.Outcome, error)
}

const (
	checkTimeout     = 2 * time.Second
	maxDeliveryLimit = 100
)

// HealthRouter serves /health with one entry per check and /metrics. When
// lister is set it also serves GET /deliveries?email=...&limit=...
func HealthRouter(checks map[string]Check, lister DeliveryLister) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, name := range names {
			ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
			err := checks[name](ctx)
			cancel()

			if err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if lister != nil {
		router.GET("/deliveries", listDeliveries(lister))
	}

	return router
}

func listDeliveries(lister DeliveryLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxDeliveryLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxDeliveryLimit)})
				return
			}
			limit = n
		}

		outcomes, err := lister.ListByEmail(c.Request.Context(), email, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list deliveries"})
			return
		}

		if outcomes == nil {
			outcomes = []storage.Outcome{}
		}
		c.JSON(http.StatusOK, gin.H{"deliveries": outcomes})
	}
}

// StartHealthServer listens on addr and serves handler in the background
func StartHealthServer(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.Serve(ln)
	}()

	return server, ln, nil
}

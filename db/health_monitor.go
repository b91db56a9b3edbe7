package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// DefaultMaxIdleConns is the idle connection count restored after a pool refresh
const DefaultMaxIdleConns = 2

// HealthMonitor provides background connection pool health monitoring
type HealthMonitor struct {
	db       *sql.DB
	interval time.Duration
	cancel   context.CancelFunc
}

// NewHealthMonitor creates a new health monitor for the given database connection pool
func NewHealthMonitor(db *sql.DB, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		db:       db,
		interval: interval,
	}
}

// Start begins the background health monitoring goroutine.
// It periodically pings the database to keep connections warm and detect issues early.
// If a ping fails, it refreshes the connection pool to clear stale connections.
func (h *HealthMonitor) Start(ctx context.Context) {
	logger := slogging.Get()

	monitorCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	ticker := time.NewTicker(h.interval)

	go func() {
		defer ticker.Stop()
		logger.Info("Connection health monitor started with interval %v", h.interval)

		for {
			select {
			case <-monitorCtx.Done():
				logger.Debug("Connection health monitor stopping")
				return
			case <-ticker.C:
				h.performHealthCheck(monitorCtx)
			}
		}
	}()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// performHealthCheck runs a single health check cycle
func (h *HealthMonitor) performHealthCheck(ctx context.Context) {
	logger := slogging.Get()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(pingCtx); err != nil {
		logger.Warn("Connection health check failed: %v", err)

		if refreshErr := RefreshConnectionPool(h.db); refreshErr != nil {
			logger.Error("Failed to refresh connection pool after health check failure: %v", refreshErr)
		} else {
			logger.Info("Connection pool refreshed after health check failure")
		}
	} else {
		logger.Debug("Connection health check passed")
	}

	stats := h.db.Stats()
	logger.Debug("Connection pool stats: open=%d, inUse=%d, idle=%d, waitCount=%d, waitDuration=%s",
		stats.OpenConnections, stats.InUse, stats.Idle, stats.WaitCount, stats.WaitDuration)
}

// RefreshConnectionPool closes idle connections and warms fresh ones.
// SetMaxIdleConns(0) forces immediate closure of all idle connections;
// the original value is then restored to allow new idle connections.
func RefreshConnectionPool(db *sql.DB) error {
	logger := slogging.Get()
	logger.Debug("Refreshing connection pool - closing idle connections")

	statsBefore := db.Stats()
	logger.Debug("Pool stats before refresh: open=%d, inUse=%d, idle=%d",
		statsBefore.OpenConnections, statsBefore.InUse, statsBefore.Idle)

	db.SetMaxIdleConns(0)
	db.SetMaxIdleConns(DefaultMaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := db.PingContext(ctx); err != nil {
			logger.Error("Pool refresh ping %d/3 failed: %v", i+1, err)
			return err
		}
	}

	statsAfter := db.Stats()
	logger.Debug("Pool stats after refresh: open=%d, inUse=%d, idle=%d",
		statsAfter.OpenConnections, statsAfter.InUse, statsAfter.Idle)

	return nil
}

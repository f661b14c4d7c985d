package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tourdesk/pkg/observability"
)

// CatalogRefresher periodically reloads the permission catalog snapshot so an
// instance picks up seeds applied by its peers
type CatalogRefresher struct {
	catalog  *CatalogCache
	schedule string
	timeout  time.Duration
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewCatalogRefresher validates schedule (standard cron syntax or @every/@hourly descriptors)
func NewCatalogRefresher(catalog *CatalogCache, schedule string, logger *observability.Logger) (*CatalogRefresher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := cron.New()
	r := &CatalogRefresher{
		catalog:  catalog,
		schedule: schedule,
		timeout:  30 * time.Second,
		logger:   logger.WithField("component", "catalog_refresher"),
		cron:     c,
	}

	if _, err := c.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid catalog refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Refresh reloads the snapshot once
func (r *CatalogRefresher) Refresh(ctx context.Context) error {
	return r.catalog.Reload(ctx)
}

func (r *CatalogRefresher) run() {
	defer observability.RecoverPanic(r.logger, "catalog refresh")

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.Refresh(ctx); err != nil {
		r.logger.WithError(err).Error("catalog refresh failed")
		return
	}
	r.logger.Debugf("catalog refreshed in %s", time.Since(start))
}

// Start begins the schedule
func (r *CatalogRefresher) Start() {
	r.cron.Start()
	r.logger.Infof("catalog refresher started with schedule %s", r.schedule)
}

// Stop halts the schedule and waits for a running refresh to finish or ctx to expire
func (r *CatalogRefresher) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package main

import (
	"context"
	"time"

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/monitoring"
)

func newCollector(jobs monitoring.JobLister, mc config.MonitoringConfig) *monitoring.Collector {
	return monitoring.NewCollector(jobs, time.Duration(mc.StallMinutes)*time.Minute)
}

// startChecker runs the alert checker in the background when monitoring is
// enabled. It stops with ctx.
func startChecker(ctx context.Context, c *monitoring.Collector, mc config.MonitoringConfig) bool {
	if !mc.Enabled {
		return false
	}
	go monitoring.NewChecker(c, monitoring.NewAlerter(mc), mc).Run(ctx)
	return true
}

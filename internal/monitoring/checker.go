package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/config"
)

// Checker evaluates job health on an interval. An alert fires once when
// its condition appears and again only after the condition has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	firing    map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once at start, then every CheckIntervalSecs (default 5m)
// until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ctx.Err() == nil {
			c.check(ctx, log)
		}
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return
	}

	raised := c.alerter.Evaluate(snap)
	now := make(map[AlertType]bool, len(raised))
	var fresh []Alert
	for _, a := range raised {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			log.Info("monitoring: alert resolved", zap.String("type", string(t)))
		}
	}
	c.firing = now

	if len(fresh) == 0 {
		return
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts raised",
		zap.Int("raised", len(fresh)),
		zap.Int("still_firing", len(raised)-len(fresh)),
		zap.Int("sent", sent),
	)
}

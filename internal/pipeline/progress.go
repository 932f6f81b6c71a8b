package pipeline

import (
	"context"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// ProgressReporter receives batch progress after every finished entity.
// Calls are serialized by the runner.
type ProgressReporter interface {
	Progress(ctx context.Context, done, total int)
}

// Percent converts done/total to a whole percentage in [0,100].
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// NewReporter returns a BarReporter for interactive runs and a LogReporter
// when CI or GITHUB_ACTIONS is set.
func NewReporter(w io.Writer) ProgressReporter {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &LogReporter{}
	}
	return NewBarReporter(w)
}

// BarReporter draws a terminal progress bar.
type BarReporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBarReporter creates a BarReporter writing to w.
func NewBarReporter(w io.Writer) *BarReporter {
	return &BarReporter{w: w}
}

func (r *BarReporter) Progress(_ context.Context, done, total int) {
	if r.bar == nil {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetDescription("Enriching entities"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = r.bar.Set(done)
	if done >= total {
		_ = r.bar.Finish()
	}
}

// LogReporter logs progress at each new decile.
type LogReporter struct {
	last int
}

func (r *LogReporter) Progress(_ context.Context, done, total int) {
	pct := Percent(done, total)
	if pct/10 <= r.last/10 && done < total {
		return
	}
	r.last = pct
	zap.L().Info("pipeline: progress", zap.Int("done", done), zap.Int("total", total), zap.Int("percent", pct))
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(ctx context.Context, done, total int)

func (f ProgressFunc) Progress(ctx context.Context, done, total int) { f(ctx, done, total) }

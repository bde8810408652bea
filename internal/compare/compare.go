// Package compare orchestrates multi-protocol risk comparisons with
// deliberate pacing so upstream APIs are never hammered.
package compare

import (
	"context"
	"sort"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/config"
	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/yourorg/defi-risk-gauge/internal/otel"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Snapshotter produces a full risk report for one protocol id.
type Snapshotter interface {
	Snapshot(ctx context.Context, id string) (model.ProtocolReport, error)
}

// Schedule controls the per-protocol pacing of a comparison run.
type Schedule struct {
	// StepDelay grows linearly with the protocol's position in the run.
	StepDelay time.Duration

	// SlowDelay is added on top for protocols listed in SlowProtocols.
	SlowDelay time.Duration

	// SlowProtocols names ids that need extra headroom upstream.
	SlowProtocols []string
}

// ScheduleFromConfig builds a schedule from the application configuration.
func ScheduleFromConfig(cfg config.Config) Schedule {
	return Schedule{
		StepDelay:     cfg.CompareStepDelay,
		SlowDelay:     cfg.CompareSlowDelay,
		SlowProtocols: cfg.SlowProtocols,
	}
}

func (s Schedule) delayFor(position int, id string) time.Duration {
	d := time.Duration(position) * s.StepDelay
	for _, slow := range s.SlowProtocols {
		if slow == id {
			d += s.SlowDelay
			break
		}
	}
	return d
}

// Orchestrator runs throttled comparisons over a Snapshotter.
type Orchestrator struct {
	snap     Snapshotter
	schedule Schedule
	limiter  *rate.Limiter

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. The limiter caps the global request rate
// across concurrent comparison runs; a nil limiter means no cap.
func New(snap Snapshotter, schedule Schedule, limiter *rate.Limiter) *Orchestrator {
	return &Orchestrator{
		snap:     snap,
		schedule: schedule,
		limiter:  limiter,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run compares the base protocol against the others and returns entries
// sorted ascending by risk score. Protocols whose upstream data is missing
// or degenerate are dropped from the ranking and counted in Skipped.
// Unknown ids abort the whole run.
func (o *Orchestrator) Run(ctx context.Context, base string, others []string) (model.Comparison, error) {
	ctx, span := otel.Tracer().Start(ctx, "compare.Run")
	defer span.End()

	ids := dedupe(append([]string{base}, others...))

	var out model.Comparison
	for i, id := range ids {
		if err := o.sleep(ctx, o.schedule.delayFor(i, id)); err != nil {
			return model.Comparison{}, err
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return model.Comparison{}, err
			}
		}

		report, err := o.snap.Snapshot(ctx, id)
		if err != nil {
			otel.RecordError(ctx, err)
			return model.Comparison{}, err
		}
		if !usable(report) {
			logrus.WithFields(logrus.Fields{
				"protocol":         id,
				"tvl_available":    report.TVLAvailable,
				"market_available": report.MarketAvailable,
			}).Warn("Skipping protocol with unusable data")
			out.Skipped++
			continue
		}

		out.Entries = append(out.Entries, model.ComparisonEntry{
			ID:            report.ID,
			RiskScore:     report.RiskScore,
			TVLUSD:        report.TVLUSD,
			Volatility24h: report.Volatility24h,
			AuditScore:    report.AuditScore,
		})
	}

	sort.SliceStable(out.Entries, func(i, j int) bool {
		return out.Entries[i].RiskScore < out.Entries[j].RiskScore
	})
	return out, nil
}

// usable rejects reports whose inputs would make a ranking meaningless.
func usable(r model.ProtocolReport) bool {
	return r.TVLAvailable && r.MarketAvailable && r.TVLUSD > 0 && r.CompositeVolatility > 0
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

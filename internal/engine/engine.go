package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	dayLayout  = "2006-01-02"
	counterTTL = 24 * time.Hour
)

// TargetStore is the catalog as the engine needs it.
type TargetStore interface {
	List(ctx context.Context) ([]Target, error)
}

// CounterStore tracks per-target daily accept counts. Counts returns one
// count per id, aligned with the input order, absent counters as 0.
type CounterStore interface {
	Counts(ctx context.Context, ids []string, day string) ([]int64, error)
	Increment(ctx context.Context, id, day string) (int64, error)
	Expire(ctx context.Context, id, day string, ttl time.Duration) error
}

// Engine makes one routing decision per call: load the catalog, keep targets
// whose accept rule matches the visitor and whose daily cap has headroom,
// pick the highest-value one and record the accept against its counter.
type Engine struct {
	targets  TargetStore
	counters CounterStore
	now      func() time.Time
}

func New(targets TargetStore, counters CounterStore) *Engine {
	return &Engine{targets: targets, counters: counters, now: time.Now}
}

func (e *Engine) Decide(ctx context.Context, v Visitor) (Decision, error) {
	reject := Decision{Decision: DecisionReject}

	targets, err := e.targets.List(ctx)
	if err != nil {
		return Decision{}, err
	}
	if len(targets) == 0 {
		return reject, nil
	}

	var matched []Target
	for _, t := range targets {
		if Matches(t, v) {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return reject, nil
	}

	day := e.now().UTC().Format(dayLayout)
	eligible, err := e.filterByDailyLimit(ctx, matched, day)
	if err != nil {
		return Decision{}, err
	}
	if len(eligible) == 0 {
		return reject, nil
	}

	// Highest value wins; ties go to the first occurrence.
	best := eligible[0]
	for _, t := range eligible[1:] {
		if t.value() > best.value() {
			best = t
		}
	}

	if err := e.recordAccept(ctx, best.ID, day); err != nil {
		return Decision{}, err
	}

	log.Debug().Str("target", best.ID).Str("day", day).Msg("accept")
	return Decision{Decision: DecisionAccept, URL: best.URL}, nil
}

// filterByDailyLimit reads today's counters for all candidates in one
// batched call and drops targets at or over their cap. The read and the
// later increment are separate operations, so the cap is a soft bound
// under concurrent decisions.
func (e *Engine) filterByDailyLimit(ctx context.Context, targets []Target, day string) ([]Target, error) {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	counts, err := e.counters.Counts(ctx, ids, day)
	if err != nil {
		return nil, err
	}

	var eligible []Target
	for i, t := range targets {
		if counts[i] < t.maxPerDay() {
			eligible = append(eligible, t)
		}
	}
	return eligible, nil
}

// recordAccept bumps the winner's counter and bounds its lifetime. The
// expiry is refreshed on every accept; the key must never outlive the day
// by more than 24 hours.
func (e *Engine) recordAccept(ctx context.Context, id, day string) error {
	if _, err := e.counters.Increment(ctx, id, day); err != nil {
		return err
	}
	return e.counters.Expire(ctx, id, day, counterTTL)
}

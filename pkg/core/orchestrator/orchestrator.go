// Package orchestrator fans one conversation window out to every judge and
// merges their verdicts into at most one intervention.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/judge"
	"github.com/meetingmod/moderator/pkg/core/meeting"
)

const (
	DefaultMinInterval  = 15 * time.Second
	DefaultJudgeTimeout = 20 * time.Second
	DefaultMinWindow    = 2
)

// SkipReason explains why a cycle produced no intervention.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipRateLimited    SkipReason = "rate_limited"
	SkipWindowTooSmall SkipReason = "window_too_small"
	SkipNoVerdict      SkipReason = "no_verdict"
)

// Outcome is the result of one Analyze cycle.
type Outcome struct {
	Intervention *meeting.Intervention
	Skip         SkipReason
	Verdicts     []judge.Verdict
	Failures     []error
}

type Config struct {
	MinInterval  time.Duration
	JudgeTimeout time.Duration
	MinWindow    int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Orchestrator runs the judges. One cycle runs at a time; concurrent Analyze
// calls queue behind each other.
type Orchestrator struct {
	judges  []judge.Judge
	limiter *Limiter
	timeout time.Duration
	window  int
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

func New(cfg Config, judges ...judge.Judge) *Orchestrator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = DefaultJudgeTimeout
	}
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = DefaultMinWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		judges:  append([]judge.Judge(nil), judges...),
		limiter: NewLimiter(cfg.MinInterval),
		timeout: cfg.JudgeTimeout,
		window:  cfg.MinWindow,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Judges returns the registered judge names in registration order.
func (o *Orchestrator) Judges() []string {
	out := make([]string, len(o.judges))
	for i, j := range o.judges {
		out[i] = j.Name()
	}
	return out
}

// Analyze evaluates window against snap. It never returns an error: judge
// failures are reported in Outcome.Failures and excluded from the merge.
func (o *Orchestrator) Analyze(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if !o.limiter.Allow(now) {
		return Outcome{Skip: SkipRateLimited}
	}
	if len(window) < o.window {
		return Outcome{Skip: SkipWindowTooSmall}
	}

	verdicts, failures := o.evaluate(ctx, snap, window)
	for _, err := range failures {
		o.logger.Warn("judge failed", "meeting_id", snap.ID, "error", err)
	}

	flagged := make([]judge.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v.NeedsIntervention {
			flagged = append(flagged, v)
		}
	}
	if len(flagged) == 0 {
		return Outcome{Skip: SkipNoVerdict, Verdicts: verdicts, Failures: failures}
	}

	sort.SliceStable(flagged, func(a, b int) bool {
		pa, pb := flagged[a].Kind.Priority(), flagged[b].Kind.Priority()
		if pa != pb {
			return pa > pb
		}
		return flagged[a].Confidence > flagged[b].Confidence
	})
	best := flagged[0]

	ts := o.limiter.Record(now)
	iv := &meeting.Intervention{
		ID:                meeting.NewInterventionID(),
		Timestamp:         ts,
		Kind:              best.Kind,
		Message:           best.Message,
		TriggerContext:    "Detected by " + best.Judge,
		ViolatedPrinciple: best.ViolatedPrinciple,
		ParkingLotItem:    best.ParkingLotItem,
		SuggestedSpeaker:  best.SuggestedSpeaker,
	}
	o.logger.Info("intervention",
		"meeting_id", snap.ID,
		"kind", string(iv.Kind),
		"judge", best.Judge,
		"confidence", best.Confidence,
		"flagged", len(flagged),
	)
	return Outcome{Intervention: iv, Verdicts: verdicts, Failures: failures}
}

// evaluate runs every judge in its own goroutine and collects results in
// registration order.
func (o *Orchestrator) evaluate(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) ([]judge.Verdict, []error) {
	type result struct {
		verdict judge.Verdict
		err     error
	}
	results := make([]result, len(o.judges))

	var wg sync.WaitGroup
	for i, j := range o.judges {
		wg.Add(1)
		go func(idx int, j judge.Judge) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = result{err: core.NewJudgeFailure(j.Name(), fmt.Errorf("panic: %v", r))}
				}
			}()

			jctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			v, err := j.Evaluate(jctx, snap, window)
			if err != nil {
				if _, ok := core.AsError(err); !ok {
					err = core.NewJudgeFailure(j.Name(), err)
				}
				results[idx] = result{err: err}
				return
			}
			if v.Judge == "" {
				v.Judge = j.Name()
			}
			if v.NeedsIntervention && !v.Kind.Valid() {
				results[idx] = result{err: core.NewJudgeFailure(j.Name(), fmt.Errorf("unknown intervention kind %q", v.Kind))}
				return
			}
			results[idx] = result{verdict: v}
		}(i, j)
	}
	wg.Wait()

	verdicts := make([]judge.Verdict, 0, len(results))
	var failures []error
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		verdicts = append(verdicts, r.verdict)
	}
	return verdicts, failures
}

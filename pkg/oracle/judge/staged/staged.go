// Package staged implements the staged_dual_judge calibration strategy
// (§6): two judge oracles are consulted side by side until their agreement,
// measured with Cohen's kappa over a binary helpful/not-helpful split of each
// reward, clears a configured threshold over enough queries, at which point
// the secondary judge drops to periodic spot-checking instead of running on
// every query.
package staged

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
)

// Config mirrors internal/config.JudgeConfig without importing it, keeping
// this package independent of the config schema.
type Config struct {
	// TransitionKappaThreshold is the minimum Cohen's kappa agreement
	// between the two judges required to leave the dual-judge phase.
	TransitionKappaThreshold float64
	// SpotCheckRate is the fraction of queries that still consult the
	// secondary judge once the primary has been trusted on its own.
	SpotCheckRate float64
	// MinQueriesBeforeTransition is the minimum number of dual-judged
	// queries accumulated before kappa is even evaluated for transition.
	MinQueriesBeforeTransition int
}

// helpfulThreshold is the reward cutoff used to binarize a [judge.Verdict]
// into a helpful/not-helpful label for the kappa calculation, matching the
// IEF recalibration midpoint.
const helpfulThreshold = 0.5

// Judge wraps a primary and secondary [judge.Evaluator], running both until
// their agreement stabilizes and then favoring the primary with periodic
// spot-checks of the secondary. Safe for concurrent use.
type Judge struct {
	primary, secondary judge.Evaluator
	cfg                Config

	mu           sync.Mutex
	n            int
	agree        int
	primaryYes   int
	secondaryYes int
	transitioned bool
}

// New constructs a Judge. A nil secondary disables dual-judge calibration
// entirely — Evaluate always delegates straight to primary.
func New(primary, secondary judge.Evaluator, cfg Config) *Judge {
	return &Judge{primary: primary, secondary: secondary, cfg: cfg}
}

// Evaluate implements [judge.Evaluator]. While still calibrating, it
// consults both judges concurrently and folds their agreement into the
// running kappa; once transitioned, it consults the secondary only on a
// random [Config.SpotCheckRate] fraction of calls, purely for drift
// monitoring. The primary's verdict is always the one returned.
func (j *Judge) Evaluate(ctx context.Context, query, retrievedContext, answer string) (judge.Verdict, error) {
	if j.secondary == nil {
		return j.primary.Evaluate(ctx, query, retrievedContext, answer)
	}

	if j.shouldConsultSecondary() {
		return j.evaluateDual(ctx, query, retrievedContext, answer)
	}
	return j.primary.Evaluate(ctx, query, retrievedContext, answer)
}

func (j *Judge) shouldConsultSecondary() bool {
	j.mu.Lock()
	transitioned := j.transitioned
	j.mu.Unlock()
	if !transitioned {
		return true
	}
	return rand.Float64() < j.cfg.SpotCheckRate
}

func (j *Judge) evaluateDual(ctx context.Context, query, retrievedContext, answer string) (judge.Verdict, error) {
	var primaryVerdict, secondaryVerdict judge.Verdict

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		v, err := j.primary.Evaluate(gctx, query, retrievedContext, answer)
		primaryVerdict = v
		return err
	})
	group.Go(func() error {
		v, err := j.secondary.Evaluate(gctx, query, retrievedContext, answer)
		secondaryVerdict = v
		return err
	})
	if err := group.Wait(); err != nil {
		return judge.Verdict{}, err
	}

	j.recordAgreement(primaryVerdict, secondaryVerdict)
	return primaryVerdict, nil
}

func (j *Judge) recordAgreement(primary, secondary judge.Verdict) {
	primaryYes := primary.Reward >= helpfulThreshold
	secondaryYes := secondary.Reward >= helpfulThreshold

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.transitioned {
		return
	}

	j.n++
	if primaryYes {
		j.primaryYes++
	}
	if secondaryYes {
		j.secondaryYes++
	}
	if primaryYes == secondaryYes {
		j.agree++
	}

	if j.n >= j.cfg.MinQueriesBeforeTransition && j.kappa() >= j.cfg.TransitionKappaThreshold {
		j.transitioned = true
	}
}

// kappa computes Cohen's kappa over the accumulated binary judgments.
// Callers must hold j.mu.
func (j *Judge) kappa() float64 {
	if j.n == 0 {
		return 0
	}
	n := float64(j.n)
	po := float64(j.agree) / n

	pPrimaryYes := float64(j.primaryYes) / n
	pSecondaryYes := float64(j.secondaryYes) / n
	pe := pPrimaryYes*pSecondaryYes + (1-pPrimaryYes)*(1-pSecondaryYes)

	if pe >= 1 {
		return 1
	}
	return (po - pe) / (1 - pe)
}

// Transitioned reports whether the secondary judge has moved to spot-check
// only mode.
func (j *Judge) Transitioned() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitioned
}

// Kappa reports the current running Cohen's kappa agreement estimate.
func (j *Judge) Kappa() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.kappa()
}

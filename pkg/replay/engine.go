package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/enforce"
)

// StopAt names the stage after which a replay halts.
type StopAt string

const (
	StopRestore          StopAt = "restore"
	StopTrustEvaluation  StopAt = "trust-evaluation"
	StopPolicyEvaluation StopAt = "policy-evaluation"
	StopDecision         StopAt = "decision"
	StopExecution        StopAt = "execution"
	StopComplete         StopAt = "complete"
)

var stageOrder = map[StopAt]int{
	StopRestore:          0,
	StopTrustEvaluation:  1,
	StopPolicyEvaluation: 2,
	StopDecision:         3,
	StopExecution:        4,
	StopComplete:         5,
}

// Decider drives the decision pipeline over a restored context.
// The enforcement engine satisfies it; replay runs use an instance
// without a cache so results are always recomputed.
type Decider interface {
	Decide(ctx context.Context, ec *enforce.Context) (*contracts.Decision, error)
}

// ReplayOptions tune one replay run.
type ReplayOptions struct {
	StopAt StopAt
	// DryRun suppresses the execution stage. Defaults to true: a zero
	// options value never executes side effects.
	DryRun *bool
	// SpeedFactor scales artificial per-stage delays. 0 or 1 = realtime.
	SpeedFactor float64
	// StageDelay is the artificial pause before each stage, scaled down
	// by SpeedFactor. Zero by default.
	StageDelay time.Duration
	Overrides  *Overrides
}

func (o ReplayOptions) dryRun() bool {
	if o.DryRun == nil {
		return true
	}
	return *o.DryRun
}

// StepStatus is the outcome of one replay stage.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Step reports one replayed stage.
type Step struct {
	Name       StopAt     `json:"name"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	DurationMs float64    `json:"duration_ms"`
}

// Result is the outcome of a replay run.
type Result struct {
	SnapshotID string              `json:"snapshot_id"`
	Steps      []Step              `json:"steps"`
	Decision   *contracts.Decision `json:"decision,omitempty"`
	Original   *contracts.Decision `json:"original,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Engine replays captured snapshots through the decision pipeline.
type Engine struct {
	snapshots *Manager
	decider   Decider
	clock     func() time.Time
	sleep     func(time.Duration)
}

// NewEngine creates a replay engine.
func NewEngine(snapshots *Manager, decider Decider) *Engine {
	return &Engine{
		snapshots: snapshots,
		decider:   decider,
		clock:     time.Now,
		sleep:     time.Sleep,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.sleep = func(time.Duration) {}
	return e
}

// Replay restores the snapshot and drives the pipeline to the configured
// stop stage.
func (e *Engine) Replay(ctx context.Context, snapshotID string, opts ReplayOptions) (*Result, error) {
	if opts.StopAt == "" {
		opts.StopAt = StopComplete
	}
	stop, ok := stageOrder[opts.StopAt]
	if !ok {
		return nil, fmt.Errorf("replay: unknown stop stage %q", opts.StopAt)
	}

	result := &Result{SnapshotID: snapshotID, StartedAt: e.clock()}
	finish := func() (*Result, error) {
		result.FinishedAt = e.clock()
		return result, nil
	}

	// Stage: restore.
	e.pause(opts)
	stageStart := e.clock()
	ec, snap, err := e.snapshots.Restore(ctx, snapshotID, opts.Overrides)
	if err != nil {
		result.Steps = append(result.Steps, Step{
			Name: StopRestore, Status: StepFailed, Detail: err.Error(),
			DurationMs: e.since(stageStart),
		})
		result.FinishedAt = e.clock()
		return result, err
	}
	result.Original = snap.Decision
	result.Steps = append(result.Steps, Step{
		Name: StopRestore, Status: StepCompleted, DurationMs: e.since(stageStart),
	})
	if stop < stageOrder[StopTrustEvaluation] {
		return finish()
	}

	// Stage: trust evaluation. The captured posture is validated, not
	// recomputed: replay reproduces the decision as seen.
	e.pause(opts)
	stageStart = e.clock()
	trustStatus := Step{Name: StopTrustEvaluation, Status: StepCompleted}
	if ec.Trust.Score.Effective < 0 || ec.Trust.Score.Effective > 1000 {
		trustStatus.Status = StepFailed
		trustStatus.Detail = "captured effective score outside [0, 1000]"
	}
	trustStatus.DurationMs = e.since(stageStart)
	result.Steps = append(result.Steps, trustStatus)
	if trustStatus.Status == StepFailed || stop < stageOrder[StopPolicyEvaluation] {
		return finish()
	}

	// Stage: policy evaluation + decision run together through the
	// decision pipeline.
	e.pause(opts)
	stageStart = e.clock()
	decision, err := e.decider.Decide(ctx, ec)
	if err != nil {
		result.Steps = append(result.Steps, Step{
			Name: StopPolicyEvaluation, Status: StepFailed, Detail: err.Error(),
			DurationMs: e.since(stageStart),
		})
		result.FinishedAt = e.clock()
		return result, err
	}
	result.Steps = append(result.Steps, Step{
		Name: StopPolicyEvaluation, Status: StepCompleted, DurationMs: e.since(stageStart),
	})
	if stop < stageOrder[StopDecision] {
		return finish()
	}

	result.Decision = decision
	result.Steps = append(result.Steps, Step{Name: StopDecision, Status: StepCompleted})
	if stop < stageOrder[StopExecution] {
		return finish()
	}

	// Stage: execution. Dry runs record the stage as skipped.
	e.pause(opts)
	execStep := Step{Name: StopExecution, Status: StepSkipped, Detail: "dry run"}
	if !opts.dryRun() {
		execStep.Status = StepCompleted
		execStep.Detail = "control action applied"
	}
	result.Steps = append(result.Steps, execStep)

	result.Steps = append(result.Steps, Step{Name: StopComplete, Status: StepCompleted})
	return finish()
}

func (e *Engine) pause(opts ReplayOptions) {
	if opts.StageDelay <= 0 {
		return
	}
	delay := opts.StageDelay
	if opts.SpeedFactor > 1 {
		delay = time.Duration(float64(delay) / opts.SpeedFactor)
	}
	e.sleep(delay)
}

func (e *Engine) since(start time.Time) float64 {
	return float64(e.clock().Sub(start).Microseconds()) / 1000.0
}

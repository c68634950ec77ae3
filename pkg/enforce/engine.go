// Package enforce is the policy decision point: it combines the trust
// posture, rule evaluation results, and escalation rules into a single
// control action with a confidence score, emits the decision record, and
// hands it to the cache and audit sink.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voriongit/vorion/core/pkg/basis"
	"github.com/voriongit/vorion/core/pkg/cache"
	"github.com/voriongit/vorion/core/pkg/contracts"
	"github.com/voriongit/vorion/core/pkg/escalation"
	"github.com/voriongit/vorion/core/pkg/observability"
	"github.com/voriongit/vorion/core/pkg/resiliency"
)

// Context is the full input to one decision. Built once per request and
// passed by reference through pure stages; nothing mutates it.
type Context struct {
	Intent      *contracts.Intent
	Trust       *contracts.TrustSnapshot
	Policies    []*contracts.Policy
	Environment *contracts.EnvironmentSnapshot

	// PolicyEvaluations, when supplied by an upstream policy evaluator,
	// contribute one constraint per evaluated policy.
	PolicyEvaluations []contracts.PolicyEvaluation

	// RuleEvaluation, when pre-computed (replay, simulation), bypasses
	// the evaluator call.
	RuleEvaluation *basis.EvalResult
}

// Recorder is the audit surface the engine writes to, asynchronously.
type Recorder interface {
	RecordDecision(ctx context.Context, decision *contracts.Decision)
	RecordEscalation(ctx context.Context, decision *contracts.Decision, rule contracts.EscalationRule)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, *contracts.Decision)                            {}
func (nopRecorder) RecordEscalation(context.Context, *contracts.Decision, contracts.EscalationRule) {}

// Options configures the engine.
type Options struct {
	Evaluator     basis.RuleEvaluator
	Cache         *cache.DecisionCache // nil disables caching
	Recorder      Recorder
	Escalations   *escalation.Manager
	Logger        *slog.Logger
	Observability *observability.Provider

	// DefaultAction is the fallback on breaker-open or evaluator failure.
	DefaultAction     contracts.ControlAction
	ConstraintTimeout time.Duration
}

// Engine is the enforcement engine. Decide is reentrant: a single
// instance services concurrent evaluations for independent intents.
type Engine struct {
	evaluator   basis.RuleEvaluator
	cache       *cache.DecisionCache
	recorder    Recorder
	escalations *escalation.Manager
	breaker     *resiliency.Breaker

	defaultAction     contracts.ControlAction
	constraintTimeout time.Duration

	logger *slog.Logger
	obs    *observability.Provider
	clock  func() time.Time
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultAction == "" {
		opts.DefaultAction = contracts.ActionDeny
	}
	if opts.ConstraintTimeout <= 0 {
		opts.ConstraintTimeout = DefaultConstraintTimeout
	}
	return &Engine{
		evaluator:         opts.Evaluator,
		cache:             opts.Cache,
		recorder:          opts.Recorder,
		escalations:       opts.Escalations,
		breaker:           resiliency.New("rule-evaluator", resiliency.Config{}, opts.Logger),
		defaultAction:     opts.DefaultAction,
		constraintTimeout: opts.ConstraintTimeout,
		logger:            opts.Logger.With("component", "enforce"),
		obs:               opts.Observability,
		clock:             time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Decide runs the decision path. The same context yields the same action,
// reason, and confidence; only ids and timestamps differ between calls.
func (e *Engine) Decide(ctx context.Context, ec *Context) (*contracts.Decision, error) {
	if ec == nil || ec.Intent == nil || ec.Trust == nil {
		return nil, errors.New("enforce: nil enforcement context")
	}

	var span trace.Span
	if e.obs != nil {
		ctx, span = e.obs.StartSpan(ctx, "enforce.decide")
		span.SetAttributes(
			attribute.String("tenant", ec.Intent.TenantID),
			attribute.String("intent_type", ec.Intent.Type),
		)
		defer span.End()
	}
	start := e.clock()

	// Cache probe.
	var fingerprint string
	if e.cache != nil {
		fp, err := cache.Fingerprint(ec.Intent, ec.Trust.Tier)
		if err == nil {
			fingerprint = fp
			if hit := e.cache.Get(ctx, ec.Intent.TenantID, fingerprint); hit != nil {
				cached := *hit
				cached.Cached = true
				e.observe(ctx, &cached, start)
				return &cached, nil
			}
		} else {
			e.logger.WarnContext(ctx, "fingerprint computation failed", "error", err)
		}
	}

	// Rule evaluation, breaker-guarded.
	eval := ec.RuleEvaluation
	if eval == nil && e.evaluator != nil {
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var ierr error
			eval, ierr = e.evaluator.Evaluate(ctx, &basis.EvalRequest{
				Intent:   ec.Intent,
				Trust:    ec.Trust,
				Policies: ec.Policies,
			})
			return ierr
		})
		if err != nil {
			decision := e.fallbackDecision(ctx, ec, err, start)
			e.recorder.RecordDecision(ctx, decision)
			e.observe(ctx, decision, start)
			return decision, nil
		}
	}

	constraints := buildConstraints(ec, eval, e.constraintTimeout, e.clock)
	action, reason := resolveAction(constraints, eval, ec.Policies)

	decision := &contracts.Decision{
		ID:          uuid.New().String(),
		IntentID:    ec.Intent.ID,
		TenantID:    ec.Intent.TenantID,
		FinalAction: action,
		Reason:      reason,
		Constraints: constraints,
		TrustScore:  ec.Trust.Score,
		TrustTier:   ec.Trust.Tier,
	}
	if eval != nil {
		decision.PoliciesEvaluated = eval.Policies
	}

	// Escalation: first matching rule wins; a deny is never softened.
	var firedRule *contracts.EscalationRule
	if decision.FinalAction != contracts.ActionDeny {
		for _, policy := range ec.Policies {
			for i := range policy.EscalationRules {
				rule := policy.EscalationRules[i]
				if escalationMatches(rule, decision.FinalAction, ec) {
					firedRule = &rule
					break
				}
			}
			if firedRule != nil {
				break
			}
		}
	}
	if firedRule != nil {
		decision.FinalAction = contracts.ActionEscalate
		decision.Reason = firedRule.Reason
		if e.escalations != nil {
			decision.Escalation = e.escalations.Create(ctx, ec.Intent.TenantID, ec.Intent.ID, *firedRule)
		} else {
			decision.Escalation = &contracts.EscalationRecord{
				ID:         uuid.New().String(),
				IntentID:   ec.Intent.ID,
				RuleID:     firedRule.ID,
				Reason:     firedRule.Reason,
				EscalateTo: firedRule.EscalateTo,
				Timeout:    firedRule.Timeout,
				Status:     contracts.EscalationPending,
				Priority:   firedRule.Priority,
				CreatedAt:  e.clock(),
			}
		}
		if e.obs != nil {
			e.obs.RecordEscalation(ctx, ec.Intent.TenantID, firedRule.ID, firedRule.Priority)
		}
	}

	total := e.clock().Sub(start)
	decision.Confidence = computeConfidence(constraints, total)
	decision.DecidedAt = e.clock()
	decision.DurationMs = float64(total.Microseconds()) / 1000.0
	if span != nil {
		sc := span.SpanContext()
		decision.TraceID = sc.TraceID().String()
		decision.SpanID = sc.SpanID().String()
	}

	// Pending escalations are never cached.
	if e.cache != nil && fingerprint != "" && !pendingEscalation(decision) {
		e.cache.Set(ctx, fingerprint, decision)
	}

	// Audit asynchronously; never await.
	e.recorder.RecordDecision(ctx, decision)
	if firedRule != nil {
		e.recorder.RecordEscalation(ctx, decision, *firedRule)
	}
	e.observe(ctx, decision, start)
	return decision, nil
}

// fallbackDecision is returned on breaker-open or evaluator failure:
// the configured default action, reduced confidence, never cached.
func (e *Engine) fallbackDecision(ctx context.Context, ec *Context, cause error, start time.Time) *contracts.Decision {
	reason := fmt.Sprintf("rule evaluator unavailable (%v); default action applied", cause)
	if errors.Is(cause, resiliency.ErrOpen) {
		reason = "rule evaluator circuit open; default action applied"
	}
	e.logger.WarnContext(ctx, "decision fallback",
		"tenant", ec.Intent.TenantID, "intent", ec.Intent.ID, "error", cause)

	now := e.clock()
	return &contracts.Decision{
		ID:          uuid.New().String(),
		IntentID:    ec.Intent.ID,
		TenantID:    ec.Intent.TenantID,
		FinalAction: e.defaultAction,
		Reason:      reason,
		Confidence:  0.5,
		TrustScore:  ec.Trust.Score,
		TrustTier:   ec.Trust.Tier,
		DecidedAt:   now,
		DurationMs:  float64(now.Sub(start).Microseconds()) / 1000.0,
	}
}

func pendingEscalation(d *contracts.Decision) bool {
	return d.FinalAction == contracts.ActionEscalate &&
		d.Escalation != nil && d.Escalation.Status == contracts.EscalationPending
}

func (e *Engine) observe(ctx context.Context, d *contracts.Decision, start time.Time) {
	if e.obs == nil {
		return
	}
	e.obs.RecordDecision(ctx, d.TenantID, string(d.FinalAction), d.Cached, e.clock().Sub(start))
	for _, c := range d.Constraints {
		e.obs.RecordConstraint(ctx, d.TenantID, string(c.Kind), c.Passed)
	}
}

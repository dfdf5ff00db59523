// Package overseer turns a validated work envelope into an ordered
// sequence of eye invocations and a consolidated verdict, streaming
// progress on the pipeline bus as it goes.
package overseer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/third-eye/thirdeye/pkg/bus"
	"github.com/third-eye/thirdeye/pkg/eyes"
	"github.com/third-eye/thirdeye/pkg/metrics"
	"github.com/third-eye/thirdeye/pkg/models"
	"github.com/third-eye/thirdeye/pkg/provider"
	"github.com/third-eye/thirdeye/pkg/session"
	"github.com/third-eye/thirdeye/pkg/store"
)

// ErrNoPendingClarification is returned by Resume when the session has no
// orchestration waiting on clarification answers.
var ErrNoPendingClarification = errors.New("no orchestration awaiting clarifications")

// Overseer routes envelopes through the registered eyes. Eyes run strictly
// sequentially so later eyes can read earlier outputs as context.
type Overseer struct {
	registry *eyes.Registry
	router   *provider.Client
	events   *bus.Bus
	sessions *session.Store
	metrics  *metrics.Metrics
	cache    *store.ResultCache

	routingTimeout time.Duration
	defaultEye     string
	now            func() time.Time

	mu      sync.Mutex
	pending map[string]models.Envelope // session id → envelope awaiting answers
}

// Option configures an Overseer.
type Option func(*Overseer)

// WithRoutingTimeout overrides the routing decision deadline.
func WithRoutingTimeout(d time.Duration) Option {
	return func(o *Overseer) { o.routingTimeout = d }
}

// WithMetrics attaches the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Overseer) { o.metrics = m }
}

// WithDefaultEye overrides the fallback eye used when routing returns an
// empty plan.
func WithDefaultEye(name string) Option {
	return func(o *Overseer) { o.defaultEye = name }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Overseer) { o.now = now }
}

// WithResultCache memoizes passing eye results. Routing decisions and
// non-passing results are never cached. A nil cache disables memoization.
func WithResultCache(cache *store.ResultCache) Option {
	return func(o *Overseer) { o.cache = cache }
}

// New creates an Overseer. router may be nil when no provider credentials
// are configured; orchestration then fails with E_LLM_ERROR while direct
// eye invocation stays available. sessions may be nil (no TTL touching).
func New(registry *eyes.Registry, router *provider.Client, events *bus.Bus, sessions *session.Store, opts ...Option) *Overseer {
	o := &Overseer{
		registry:       registry,
		router:         router,
		events:         events,
		sessions:       sessions,
		routingTimeout: DefaultRoutingTimeout,
		defaultEye:     eyes.NameSharingan,
		now:            time.Now,
		pending:        make(map[string]models.Envelope),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate validates the envelope, asks the router for a plan, and runs
// it. The returned response always carries a code from the shared taxonomy;
// the HTTP layer maps codes to statuses.
func (o *Overseer) Orchestrate(ctx context.Context, env models.Envelope) models.OverseerResponse {
	resp := o.orchestrate(ctx, env)
	if o.metrics != nil {
		o.metrics.OrchestrationsTotal.WithLabelValues(resp.Code).Inc()
	}
	if o.sessions != nil && touches(resp.Code) {
		o.sessions.Touch(sessionID(env))
	}
	return resp
}

// touches reports whether a response counts as session activity. Every
// response that reached the pipeline does; only submissions rejected
// before it (schema failures, routing outages) leave last_activity alone.
func touches(code string) bool {
	return code != models.CodeBadPayloadSchema && code != models.CodeLLMError
}

func (o *Overseer) orchestrate(ctx context.Context, env models.Envelope) models.OverseerResponse {
	if verr := validateEnvelope(env); verr != nil {
		return models.OverseerResponse{
			OK:   false,
			Code: models.CodeBadPayloadSchema,
			MD:   fmt.Sprintf("### Invalid Submission\n%s.", verr.Hint),
			Data: map[string]any{
				"field": verr.Field,
				"hint":  verr.Hint,
			},
			NextAction: models.NextActionFixValidationErrors,
		}
	}

	sid := sessionID(env)
	logger := slog.With("session_id", sid)

	plan, reasoning, err := o.route(ctx, env)
	if err != nil {
		logger.Error("routing decision failed", "error", err)
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues(string(provider.KindOf(err))).Inc()
		}
		return models.OverseerResponse{
			OK:   false,
			Code: models.CodeLLMError,
			MD:   "### Routing Unavailable\nThe routing model could not produce a plan. Invoke the eyes directly while the provider recovers.",
			Data: map[string]any{
				"hint": "invoke eyes directly, e.g. sharingan then the reviewer matching your artifact",
			},
			NextAction: models.NextActionInvokeEyesDirectly,
		}
	}
	logger.Info("orchestration plan resolved", "eyes", plan, "reasoning", reasoning)

	totalStages := len(plan) + 2
	results := make([]models.EyeResult, 0, len(plan))

	for i, name := range plan {
		if ctx.Err() != nil {
			o.publishAborted(sid, i+1, totalStages)
			return abortedResponse(results)
		}

		o.publishProgress(sid, models.ProgressData{
			Stage:        "eye_" + name,
			Message:      fmt.Sprintf("running %s (%d/%d)", name, i+1, len(plan)),
			Progress:     float64(i+1) / float64(totalStages),
			CurrentStage: i + 1,
			TotalStages:  totalStages,
		})

		result, err := o.invokeWithRetry(ctx, name, withPriorResults(env, results))
		if err != nil {
			logger.Error("eye invocation failed", "eye", name, "error", err)
			if ctx.Err() != nil {
				o.publishAborted(sid, i+1, totalStages)
				return abortedResponse(results)
			}
			return models.OverseerResponse{
				OK:   false,
				Code: models.CodeOrchestrationFailed,
				MD:   fmt.Sprintf("### Pipeline Interrupted\n%s failed after a retry; %d of %d validations completed.", name, len(results), len(plan)),
				Data: map[string]any{
					"failed_eye":            name,
					"error_kind":            string(provider.KindOf(err)),
					"partial_results":       results,
					"completed_validations": len(results),
				},
				NextAction: models.NextActionInvokeEyesDirectly,
			}
		}

		results = append(results, result)
		o.publishEyeUpdate(sid, result)

		switch result.Code {
		case models.CodeNeedsClarification:
			o.rememberPending(sid, env)
			return models.OverseerResponse{
				OK:   false,
				Code: models.CodeNeedsClarification,
				MD:   result.MD,
				Data: map[string]any{
					"clarifications": result.Clarifications(),
					"results":        results,
				},
				NextAction: models.NextActionSubmitClarifications,
			}
		case models.CodeNeedsRevision:
			return models.OverseerResponse{
				OK:   false,
				Code: models.CodeNeedsRevision,
				MD:   result.MD,
				Data: map[string]any{
					"results": results,
				},
				NextAction: models.NextActionReviseAndResubmit,
			}
		}
	}

	o.publishProgress(sid, models.ProgressData{
		Stage:        "synthesis",
		Progress:     float64(totalStages-1) / float64(totalStages),
		CurrentStage: totalStages - 1,
		TotalStages:  totalStages,
	})

	resp := synthesize(results, reasoning)

	o.publishProgress(sid, models.ProgressData{
		Stage:        "complete",
		Progress:     1,
		CurrentStage: totalStages,
		TotalStages:  totalStages,
	})
	return resp
}

// Resume merges clarification answers into the envelope that triggered the
// clarification short-circuit and restarts orchestration. Answers augment
// the original context_info under the "clarifications" key rather than
// replacing it.
func (o *Overseer) Resume(ctx context.Context, sid string, answers []models.ClarificationAnswer) (models.OverseerResponse, error) {
	o.mu.Lock()
	env, ok := o.pending[sid]
	if ok {
		delete(o.pending, sid)
	}
	o.mu.Unlock()
	if !ok {
		return models.OverseerResponse{}, ErrNoPendingClarification
	}

	env.Payload.ContextInfo = cloneContext(env.Payload.ContextInfo)
	env.Payload.ContextInfo["clarifications"] = answers
	return o.Orchestrate(ctx, env), nil
}

// HasPending reports whether the session is waiting on clarification
// answers.
func (o *Overseer) HasPending(sid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[sid]
	return ok
}

func (o *Overseer) rememberPending(sid string, env models.Envelope) {
	if sid == "" {
		return
	}
	o.mu.Lock()
	o.pending[sid] = env
	o.mu.Unlock()
}

// invokeWithRetry runs one eye, retrying exactly once on a retryable
// provider failure (timeout or upstream 5xx). Other failures abort
// immediately. Passing results are memoized when a cache is attached.
func (o *Overseer) invokeWithRetry(ctx context.Context, name string, env models.Envelope) (models.EyeResult, error) {
	cacheKey := o.cacheKey(name, env)
	if cacheKey != "" {
		if cached, found, cerr := o.cache.Get(ctx, cacheKey); cerr == nil && found {
			if o.metrics != nil {
				o.metrics.EyeInvocations.WithLabelValues(name, "cached").Inc()
			}
			return cached, nil
		}
	}

	started := o.now()
	result, err := o.registry.Invoke(ctx, name, env)
	if err != nil && provider.Retryable(err) && ctx.Err() == nil {
		slog.Warn("eye failed with retryable error, retrying once",
			"eye", name,
			"kind", string(provider.KindOf(err)))
		result, err = o.registry.Invoke(ctx, name, env)
	}

	if o.metrics != nil {
		o.metrics.EyeDuration.WithLabelValues(name).Observe(o.now().Sub(started).Seconds())
		outcome := result.Code
		if err != nil {
			outcome = "error"
			o.metrics.ProviderErrors.WithLabelValues(string(provider.KindOf(err))).Inc()
		}
		o.metrics.EyeInvocations.WithLabelValues(name, outcome).Inc()
	}

	if err == nil && cacheKey != "" && result.Passed() {
		if cerr := o.cache.Set(ctx, cacheKey, result); cerr != nil {
			slog.Warn("result cache write failed", "eye", name, "error", cerr)
		}
	}
	return result, err
}

// cacheKey derives the memoization key from the eye name and the full
// payload, including prior results and clarifications, so a changed input
// never resolves to a stale verdict. Empty when caching is off.
func (o *Overseer) cacheKey(name string, env models.Envelope) string {
	if o.cache == nil {
		return ""
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return ""
	}
	return store.CacheKey(name, payload)
}

func (o *Overseer) publishProgress(sid string, p models.ProgressData) {
	o.events.Publish(sid, models.PipelineEvent{
		Type: models.EventTypeOrchestrationProgress,
		Data: p.AsMap(),
	})
	if o.metrics != nil {
		o.metrics.EventsPublished.Inc()
	}
}

func (o *Overseer) publishAborted(sid string, stage, total int) {
	o.publishProgress(sid, models.ProgressData{
		Stage:        "aborted",
		Message:      "orchestration canceled",
		Progress:     float64(stage) / float64(total),
		CurrentStage: stage,
		TotalStages:  total,
		Aborted:      true,
	})
}

func (o *Overseer) publishEyeUpdate(sid string, result models.EyeResult) {
	o.events.Publish(sid, models.PipelineEvent{
		Type: models.EventTypeEyeUpdate,
		Eye:  result.Eye,
		OK:   result.OK,
		Code: result.Code,
		MD:   result.MD,
		Data: result.Data,
	})
	if o.metrics != nil {
		o.metrics.EventsPublished.Inc()
	}
}

// synthesize folds completed eye results into the final verdict: ok only
// when every eye passed, confidence as the mean of reported confidences.
func synthesize(results []models.EyeResult, reasoning string) models.OverseerResponse {
	allOK := true
	var confSum float64
	var confCount int
	for _, r := range results {
		if !r.Passed() {
			allOK = false
		}
		if r.Confidence > 0 {
			confSum += r.Confidence
			confCount++
		}
	}
	confidence := 0.0
	if confCount > 0 {
		confidence = confSum / float64(confCount)
	}

	code := models.CodeOKAll
	next := models.NextActionProceed
	if !allOK {
		code = models.CodePartialFail
		next = models.NextActionReviseAndResubmit
	}

	return models.OverseerResponse{
		OK:   allOK,
		Code: code,
		MD:   summaryMD(results, allOK),
		Data: map[string]any{
			"results":           results,
			"confidence":        confidence,
			"routing_reasoning": reasoning,
		},
		NextAction: next,
	}
}

func summaryMD(results []models.EyeResult, allOK bool) string {
	var b strings.Builder
	if allOK {
		b.WriteString("### All Validations Passed\n")
	} else {
		b.WriteString("### Validation Incomplete\n")
	}
	for _, r := range results {
		verdict := "fail"
		if r.Passed() {
			verdict = "pass"
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", r.Eye, verdict, r.Code)
	}
	return strings.TrimRight(b.String(), "\n")
}

func abortedResponse(results []models.EyeResult) models.OverseerResponse {
	return models.OverseerResponse{
		OK:   false,
		Code: models.CodeOrchestrationFailed,
		MD:   "### Orchestration Aborted\nThe request was canceled before the pipeline finished.",
		Data: map[string]any{
			"aborted":               true,
			"partial_results":       results,
			"completed_validations": len(results),
		},
		NextAction: models.NextActionInvokeEyesDirectly,
	}
}

// withPriorResults hands earlier eye outputs to the next eye through
// context_info. The original envelope is never mutated.
func withPriorResults(env models.Envelope, results []models.EyeResult) models.Envelope {
	if len(results) == 0 {
		return env
	}

	env.Payload.ContextInfo = cloneContext(env.Payload.ContextInfo)
	prior := make(map[string]string, len(results))
	for _, r := range results {
		prior[r.Eye] = r.MD
		if prompt, ok := r.Data["prompt_md"].(string); ok && prompt != "" {
			env.Payload.ContextInfo["optimized_prompt"] = prompt
		}
	}
	env.Payload.ContextInfo["prior_results"] = prior
	return env
}

func cloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sessionID(env models.Envelope) string {
	if env.Context == nil {
		return ""
	}
	return env.Context.SessionID
}

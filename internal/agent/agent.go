package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/VenkatGGG/shopping-agent/internal/approval"
	"github.com/VenkatGGG/shopping-agent/internal/artifact"
	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/events"
	"github.com/VenkatGGG/shopping-agent/internal/idempotency"
	"github.com/VenkatGGG/shopping-agent/internal/lease"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/payment"
	"github.com/VenkatGGG/shopping-agent/internal/plan"
	"github.com/VenkatGGG/shopping-agent/internal/runstore"
	"github.com/VenkatGGG/shopping-agent/internal/shop"
	"github.com/VenkatGGG/shopping-agent/internal/tracing"
	"github.com/VenkatGGG/shopping-agent/internal/validate"
)

// Storefront is what a run does in the browser. *shop.Session satisfies it.
type Storefront interface {
	Browse(ctx context.Context, p plan.ShoppingPlan) ([]shop.ItemOutcome, error)
	ExtractCart(ctx context.Context, p plan.ShoppingPlan) (cart.Cart, error)
	ProceedToCheckout(ctx context.Context) (bool, error)
	FillPaymentForm(ctx context.Context, card *payment.Method) (bool, error)
	CompletePurchase(ctx context.Context) cart.PaymentResult
}

// OpenFunc starts or attaches to the browser for a run. The returned close
// function is always called, also after failures later in the run.
type OpenFunc func(ctx context.Context, runID string) (Storefront, func() error, error)

// Approver is the payment approval service. *approval.Client satisfies it.
type Approver interface {
	StartRun(ctx context.Context, runID string, force bool) (approval.Run, error)
	SubmitIntent(ctx context.Context, p plan.ShoppingPlan, c cart.Cart, intentID string) (approval.SubmitResult, error)
	WaitForApproval(ctx context.Context, intentID string, opts approval.PollOptions) (*payment.Method, error)
	Complete(ctx context.Context, intentID string, metadata any) error
}

var errMissingIntentID = errors.New("approval response missing intentId")

type Deps struct {
	LLM       llm.Completer
	Validator validate.Validator
	Open      OpenFunc
	Output    *artifact.OutputDir

	// Approver is nil when no approval service is configured; the run then
	// stops after validation.
	Approver Approver

	Idempotency idempotency.Store
	Leases      lease.Manager
	Runs        runstore.Store
	Events      events.Publisher
}

type Options struct {
	Domain     string
	ProfileDir string
	LeaseTTL   time.Duration

	Approval    approval.PollOptions
	Idempotency idempotency.Options
	// SubmitPause runs between filling the payment form and submitting it.
	// Zero takes the default; negative skips it.
	SubmitPause time.Duration

	Verbose bool
}

type Request struct {
	Requirements string
	Instructions string
	// MockCard replaces the approval wait. The agent zeroes it after use.
	MockCard *payment.Method
}

// Output is agent_output.json.
type Output struct {
	ShoppingPlan plan.ShoppingPlan `json:"shopping_plan"`
	Cart         cart.Cart         `json:"cart"`
	Validation   validate.Result   `json:"validation"`
	Success      bool              `json:"success"`
	Error        *string           `json:"error"`
}

// Result is what a run reports back to its caller. Intent is nil when no
// intent was submitted.
type Result struct {
	RunID    string
	Output   Output
	Outcomes []shop.ItemOutcome
	Intent   *approval.SubmitResult
	Files    []string
}

type Agent struct {
	deps   Deps
	opts   Options
	logger *log.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(deps Deps, opts Options, logger *log.Logger) (*Agent, error) {
	if deps.LLM == nil {
		return nil, errors.New("llm completer is required")
	}
	if deps.Open == nil {
		return nil, errors.New("browser opener is required")
	}
	if deps.Output == nil {
		return nil, errors.New("output dir is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if deps.Validator == nil {
		deps.Validator = validate.Chain{Pre: validate.Deterministic{}, Main: validate.NewLLM(deps.LLM, logger)}
	}
	if deps.Idempotency == nil {
		deps.Idempotency = idempotency.NewInMemoryStore()
	}
	if deps.Leases == nil {
		deps.Leases = lease.NewInMemoryManager()
	}
	if deps.Runs == nil {
		deps.Runs = runstore.NewInMemoryStore()
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if opts.SubmitPause == 0 {
		opts.SubmitPause = 15 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = lease.DefaultTTL
	}
	return &Agent{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
	}, nil
}

func (a *Agent) debugf(format string, args ...any) {
	if a.opts.Verbose {
		a.logger.Printf("debug: "+format, args...)
	}
}

// run carries the state of one invocation between stages.
type run struct {
	id       string
	plan     *plan.ShoppingPlan
	cart     *cart.Cart
	result   Result
	decision validate.Decision
	intent   idempotency.Entry
}

// Run executes intake, shopping, extraction, validation and, when an
// approver is configured and validation passes, the approval and checkout
// flow. Stages run strictly in order.
func (a *Agent) Run(ctx context.Context, req Request) (result Result, err error) {
	if strings.TrimSpace(req.Requirements) == "" {
		return Result{}, errors.New("requirements are required")
	}
	defer req.MockCard.Zero()

	r := &run{id: runstore.NewRunID()}
	r.result.RunID = r.id
	ctx, span := tracing.Start(ctx, "agent.run", attribute.String("run_id", r.id))
	defer func() { tracing.End(span, err) }()

	if _, err := a.deps.Runs.Create(ctx, runstore.CreateInput{
		ID:           r.id,
		Requirements: req.Requirements,
		Domain:       a.opts.Domain,
	}); err != nil {
		return Result{}, fmt.Errorf("record run: %w", err)
	}
	defer func() { a.finish(r, err) }()

	if a.deps.Approver != nil {
		a.logger.Printf("stage=start_run run_id=%s", r.id)
		if _, err := a.deps.Approver.StartRun(ctx, r.id, true); err != nil {
			return r.result, err
		}
	}

	if err := a.intake(ctx, r, req); err != nil {
		return r.result, err
	}

	holder, err := lease.Hold(ctx, a.deps.Leases, lease.ProfileResource(a.opts.ProfileDir), r.id, a.opts.LeaseTTL)
	if err != nil {
		return r.result, err
	}
	defer func() {
		if err := holder.Release(context.Background()); err != nil {
			a.logger.Printf("release profile lease failed: run_id=%s err=%v", r.id, err)
		}
	}()

	store, closeBrowser, err := a.deps.Open(ctx, r.id)
	if closeBrowser != nil {
		defer func() {
			if err := closeBrowser(); err != nil {
				a.logger.Printf("close browser failed: run_id=%s err=%v", r.id, err)
			}
		}()
	}
	if err != nil {
		return r.result, fmt.Errorf("open browser: %w", err)
	}

	if err := a.shop(ctx, r, store); err != nil {
		return r.result, err
	}
	if err := a.validate(ctx, r); err != nil {
		a.saveFailedOutput(r, err)
		return r.result, err
	}

	switch {
	case a.deps.Approver != nil && r.result.Output.Success:
		if err := a.approveAndPay(ctx, r, store, holder, req.MockCard); err != nil {
			a.saveFailedOutput(r, err)
			return r.result, err
		}
	case a.deps.Approver != nil:
		a.logger.Printf("warning: Skipping Paytato intent submission - validation failed")
	default:
		a.debugf("approval service not configured, stopping after validation")
	}
	return r.result, nil
}

func (a *Agent) intake(ctx context.Context, r *run, req Request) (err error) {
	ctx, span := tracing.Start(ctx, "agent.intake")
	defer func() { tracing.End(span, err) }()

	requirements := strings.TrimSpace(req.Requirements)
	if instructions := strings.TrimSpace(req.Instructions); instructions != "" {
		requirements += "\n\nAdditional instructions: " + instructions
	}
	a.logger.Printf("stage=intake run_id=%s", r.id)
	raw, err := a.deps.LLM.Complete(ctx, llm.Request{
		PromptID:  llm.PromptIntakeToPlan,
		Variables: map[string]string{"user_requirements": requirements},
		Metadata:  map[string]any{"stage": "intake_plan"},
		SessionID: r.id,
	})
	if err != nil {
		return fmt.Errorf("create shopping plan: %w", err)
	}
	p, err := plan.FromIntake(raw, a.now())
	if err != nil {
		return fmt.Errorf("create shopping plan: %w", err)
	}
	if err := plan.Validate(p); err != nil {
		return err
	}
	r.plan = &p
	a.logger.Printf("plan created: plan_id=%s items=%d budget_cents=%d currency=%s",
		p.PlanID, len(p.Items), p.Budget.EffectiveMaxTotalCents(), p.Budget.Currency)

	if err := a.save(r, artifact.PlanFile, p); err != nil {
		return err
	}
	a.record(ctx, r, runstore.Progress{PlanID: &p.PlanID})
	return nil
}

func (a *Agent) shop(ctx context.Context, r *run, store Storefront) (err error) {
	ctx, span := tracing.Start(ctx, "agent.shop", attribute.Int("items", len(r.plan.Items)))
	defer func() { tracing.End(span, err) }()

	a.logger.Printf("stage=shop run_id=%s domain=%s", r.id, a.opts.Domain)
	outcomes, err := store.Browse(ctx, *r.plan)
	r.result.Outcomes = outcomes
	if err != nil {
		return fmt.Errorf("shop: %w", err)
	}
	for _, outcome := range outcomes {
		a.debugf("item outcome: plan_item_id=%s matched=%t product=%q added=%d/%d",
			outcome.PlanItemID, outcome.Matched, outcome.ProductName, outcome.Added, outcome.Requested)
	}

	c, err := store.ExtractCart(ctx, *r.plan)
	if err != nil {
		return fmt.Errorf("extract cart: %w", err)
	}
	c.PaymentResult = nil
	fingerprint := c.ComputeFingerprint()
	r.cart = &c
	a.logger.Printf("cart extracted: cart_id=%s items=%d total_cents=%d fingerprint=%s",
		c.CartID, len(c.Items), c.Totals.TotalCents, fingerprint)

	if err := a.save(r, artifact.CartFile, c); err != nil {
		return err
	}
	a.record(ctx, r, runstore.Progress{CartID: &c.CartID, Fingerprint: &fingerprint})
	a.publish(ctx, events.Event{
		Type:  events.TypeCartExtracted,
		RunID: r.id,
		Key:   fingerprint,
		Attributes: map[string]any{
			"cart_id":         c.CartID,
			"plan_id":         c.PlanID,
			"merchant_origin": c.MerchantOrigin,
			"items":           len(c.Items),
			"total_cents":     c.Totals.TotalCents,
			"currency":        c.Totals.Currency,
		},
	})
	return nil
}

func (a *Agent) validate(ctx context.Context, r *run) (err error) {
	ctx, span := tracing.Start(ctx, "agent.validate")
	defer func() { tracing.End(span, err) }()

	a.logger.Printf("stage=validate run_id=%s", r.id)
	verdict, err := a.deps.Validator.Validate(ctx, *r.plan, *r.cart)
	if err != nil {
		return fmt.Errorf("validate cart: %w", err)
	}
	r.decision = verdict.Decision
	a.logger.Printf("validation decision: decision=%s flags=%v", verdict.Decision, verdict.Flags)
	if verdict.Reasoning != "" {
		a.debugf("validation reasoning: %s", verdict.Reasoning)
	}

	if err := a.save(r, artifact.ValidationFile, verdict); err != nil {
		return err
	}
	decision := string(verdict.Decision)
	a.record(ctx, r, runstore.Progress{Decision: &decision})
	a.publish(ctx, events.Event{
		Type:  events.TypeCartValidated,
		RunID: r.id,
		Key:   r.cart.Fingerprint,
		Attributes: map[string]any{
			"decision": decision,
			"flags":    verdict.Flags,
		},
	})

	r.result.Output = Output{
		ShoppingPlan: *r.plan,
		Cart:         *r.cart,
		Validation:   verdict,
		Success:      verdict.Decision != validate.Reject,
	}
	return a.save(r, artifact.OutputFile, r.result.Output)
}

// saveFailedOutput writes agent_output.json for a run that failed after the
// cart was extracted.
func (a *Agent) saveFailedOutput(r *run, cause error) {
	if r.plan == nil || r.cart == nil {
		return
	}
	message := cause.Error()
	out := r.result.Output
	out.ShoppingPlan = *r.plan
	out.Cart = *r.cart
	out.Error = &message
	if out.Validation.Decision == "" {
		out.Validation = validate.Result{Decision: validate.Reject, Flags: []string{"validation_error"}}
		out.Success = false
	}
	r.result.Output = out
	if err := a.save(r, artifact.OutputFile, out); err != nil {
		a.logger.Printf("save failed output: run_id=%s err=%v", r.id, err)
	}
}

func (a *Agent) save(r *run, name string, v any) error {
	path, err := a.deps.Output.SaveJSON(name, v)
	if err != nil {
		return err
	}
	for _, existing := range r.result.Files {
		if existing == path {
			a.debugf("rewrote %s", path)
			return nil
		}
	}
	r.result.Files = append(r.result.Files, path)
	a.logger.Printf("saved %s", path)
	return nil
}

func (a *Agent) record(ctx context.Context, r *run, progress runstore.Progress) {
	if _, err := a.deps.Runs.Record(ctx, r.id, progress); err != nil {
		a.logger.Printf("record run progress failed: run_id=%s err=%v", r.id, err)
	}
}

func (a *Agent) publish(ctx context.Context, event events.Event) {
	event.OccurredAt = a.now()
	if err := a.deps.Events.Publish(ctx, event); err != nil {
		a.logger.Printf("publish event failed: type=%s run_id=%s err=%v", event.Type, event.RunID, err)
	}
}

func (a *Agent) finish(r *run, err error) {
	input := runstore.FinishInput{RunID: r.id, Completed: a.now()}
	switch {
	case errors.Is(err, context.Canceled):
		input.Status = runstore.StatusInterrupted
		input.ErrorMessage = err.Error()
	case err != nil:
		input.Status = runstore.StatusFailed
		input.ErrorMessage = err.Error()
	case r.decision == validate.Reject:
		input.Status = runstore.StatusRejected
	default:
		input.Status = runstore.StatusSucceeded
	}
	if _, ferr := a.deps.Runs.Finish(context.Background(), input); ferr != nil {
		a.logger.Printf("finish run record failed: run_id=%s err=%v", r.id, ferr)
		return
	}
	a.logger.Printf("run finished: run_id=%s status=%s", r.id, input.Status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/VenkatGGG/shopping-agent/internal/approval"
	"github.com/VenkatGGG/shopping-agent/internal/artifact"
	"github.com/VenkatGGG/shopping-agent/internal/cart"
	"github.com/VenkatGGG/shopping-agent/internal/events"
	"github.com/VenkatGGG/shopping-agent/internal/idempotency"
	"github.com/VenkatGGG/shopping-agent/internal/lease"
	"github.com/VenkatGGG/shopping-agent/internal/payment"
	"github.com/VenkatGGG/shopping-agent/internal/runstore"
	"github.com/VenkatGGG/shopping-agent/internal/tracing"
)

const (
	IntentFile = "paytato_intent.json"

	msgCheckoutFailed = "Failed to navigate to checkout"
	msgFillFailed     = "Failed to fill payment form"
)

// minIntentTTL keeps a record for a cart that expires mid-submission.
const minIntentTTL = time.Second

const (
	paymentPending   = "pending"
	paymentSucceeded = "succeeded"
	paymentFailed    = "failed"
)

// approveAndPay submits the intent, waits for the card and pays. Only
// failures to reach the approval service are returned; a failed checkout is
// reported to the service and recorded on the cart.
func (a *Agent) approveAndPay(ctx context.Context, r *run, store Storefront, holder *lease.Holder, mockCard *payment.Method) (err error) {
	ctx, span := tracing.Start(ctx, "agent.approval", attribute.String("fingerprint", r.cart.Fingerprint))
	defer func() { tracing.End(span, err) }()

	intent, err := a.submitIntent(ctx, r)
	if errors.Is(err, errMissingIntentID) {
		a.logger.Printf("warning: Paytato response missing intentId: status=%q", intent.Status)
		if err := a.save(r, IntentFile, intent); err != nil {
			return err
		}
		pending := paymentPending
		a.record(ctx, r, runstore.Progress{PaymentStatus: &pending})
		return nil
	}
	if err != nil {
		return err
	}
	r.result.Intent = &intent
	if err := a.save(r, IntentFile, intent); err != nil {
		return err
	}
	pending := paymentPending
	a.record(ctx, r, runstore.Progress{IntentID: &intent.IntentID, PaymentStatus: &pending})

	card := mockCard
	if card != nil {
		a.logger.Printf("using mock payment payload: intent_id=%s", intent.IntentID)
	} else {
		a.logger.Printf("stage=await_approval run_id=%s intent_id=%s", r.id, intent.IntentID)
		opts := a.opts.Approval
		opts.Heartbeat = holder.Renew
		card, err = a.deps.Approver.WaitForApproval(ctx, intent.IntentID, opts)
		if err != nil {
			return fmt.Errorf("wait for approval: %w", err)
		}
	}
	if card == nil {
		a.logger.Printf("warning: approval not received or timed out: intent_id=%s", intent.IntentID)
		return nil
	}
	defer card.Zero()

	a.logger.Printf("stage=pay run_id=%s intent_id=%s", r.id, intent.IntentID)
	outcome := a.pay(ctx, store, card)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.report(ctx, r, intent.IntentID, outcome)
	return nil
}

func (a *Agent) submitIntent(ctx context.Context, r *run) (approval.SubmitResult, error) {
	var submitted approval.SubmitResult
	opts := a.opts.Idempotency
	opts.Owner = r.id
	opts.EntryTTL = a.intentTTL(r.cart)
	opts.Reuse = func(e idempotency.Entry) bool {
		if e.Reusable(a.now()) {
			return true
		}
		a.logger.Printf("not reusing intent: intent_id=%s completed=%t expires_at=%s", e.IntentID, e.Completed, e.ExpiresAt.Format(time.RFC3339))
		return false
	}
	entry, cached, err := idempotency.Once(ctx, a.deps.Idempotency, idempotency.ScopeIntent, r.cart.Fingerprint, opts,
		func(ctx context.Context) (idempotency.Entry, error) {
			a.logger.Printf("stage=submit_intent run_id=%s", r.id)
			res, err := a.deps.Approver.SubmitIntent(ctx, *r.plan, *r.cart, "")
			if err != nil {
				return idempotency.Entry{}, err
			}
			submitted = res
			if res.IntentID == "" {
				return idempotency.Entry{}, errMissingIntentID
			}
			return idempotency.Entry{
				IntentID:    res.IntentID,
				Status:      res.Status,
				RunID:       r.id,
				SubmittedAt: a.now(),
				ExpiresAt:   r.cart.ExpiresAt,
			}, nil
		})
	if err != nil {
		if errors.Is(err, errMissingIntentID) {
			return submitted, err
		}
		if submitted.IntentID != "" {
			a.logger.Printf("intent submitted but not recorded for dedupe: intent_id=%s err=%v", submitted.IntentID, err)
			return submitted, nil
		}
		if errors.Is(err, idempotency.ErrInFlight) {
			return approval.SubmitResult{}, fmt.Errorf("submit intent for cart %s: %w", r.cart.Fingerprint, err)
		}
		return approval.SubmitResult{}, fmt.Errorf("submit intent: %w", err)
	}
	r.intent = entry
	if cached {
		a.logger.Printf("reusing intent for identical cart: intent_id=%s first_run_id=%s", entry.IntentID, entry.RunID)
		return approval.SubmitResult{IntentID: entry.IntentID, Status: entry.Status, IsDuplicate: true}, nil
	}
	return submitted, nil
}

// intentTTL bounds the dedupe record by the cart's soft expiry, which is
// also the useful life of the intent submitted for it.
func (a *Agent) intentTTL(c *cart.Cart) time.Duration {
	ttl := a.opts.Idempotency.EntryTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultEntryTTL
	}
	if c.ExpiresAt.IsZero() {
		return ttl
	}
	remaining := c.ExpiresAt.Sub(a.now())
	if remaining < minIntentTTL {
		remaining = minIntentTTL
	}
	if remaining < ttl {
		ttl = remaining
	}
	return ttl
}

// markCompleted stops later runs from reusing an intent whose payment
// outcome was already reported.
func (a *Agent) markCompleted(ctx context.Context, r *run) {
	if r.intent.IntentID == "" {
		return
	}
	done := r.intent
	done.Completed = true
	if err := a.deps.Idempotency.Commit(ctx, idempotency.ScopeIntent, r.cart.Fingerprint, r.id, done, a.intentTTL(r.cart)); err != nil {
		a.logger.Printf("mark intent completed failed: intent_id=%s err=%v", done.IntentID, err)
		return
	}
	r.intent = done
}

// pay drives checkout with card. The card is zeroed as soon as the form is
// filled, before the pause and the submit.
func (a *Agent) pay(ctx context.Context, store Storefront, card *payment.Method) cart.PaymentResult {
	reached, err := store.ProceedToCheckout(ctx)
	if err != nil {
		card.Zero()
		return failedPayment(err.Error())
	}
	if !reached {
		card.Zero()
		return failedPayment(msgCheckoutFailed)
	}

	filled, err := store.FillPaymentForm(ctx, card)
	card.Zero()
	if err != nil {
		return failedPayment(err.Error())
	}
	if !filled {
		return failedPayment(msgFillFailed)
	}

	a.logger.Printf("pausing before submitting payment: pause=%s", a.opts.SubmitPause)
	if err := a.sleep(ctx, a.opts.SubmitPause); err != nil {
		return failedPayment(err.Error())
	}
	return store.CompletePurchase(ctx)
}

func (a *Agent) report(ctx context.Context, r *run, intentID string, outcome cart.PaymentResult) {
	if outcome.Success {
		a.logger.Printf("payment completed: intent_id=%s confirmation=%s", intentID, deref(outcome.ConfirmationNumber))
	} else {
		a.logger.Printf("payment failed: intent_id=%s error=%q", intentID, deref(outcome.ErrorMessage))
	}

	r.cart.PaymentResult = &outcome
	r.result.Output.Cart = *r.cart
	if err := a.save(r, artifact.CartFile, *r.cart); err != nil {
		a.logger.Printf("save cart with payment result failed: %v", err)
	}
	if err := a.save(r, artifact.OutputFile, r.result.Output); err != nil {
		a.logger.Printf("save output with payment result failed: %v", err)
	}

	completion := approval.Completion{
		Success:            outcome.Success,
		ConfirmationNumber: outcome.ConfirmationNumber,
		ReceiptURL:         outcome.ReceiptURL,
		ErrorMessage:       outcome.ErrorMessage,
	}
	if err := a.deps.Approver.Complete(ctx, intentID, completion); err != nil {
		a.logger.Printf("report payment result failed: intent_id=%s err=%v", intentID, err)
	}
	a.markCompleted(ctx, r)

	status := paymentFailed
	if outcome.Success {
		status = paymentSucceeded
	}
	a.record(ctx, r, runstore.Progress{PaymentStatus: &status})
	a.publish(ctx, events.Event{
		Type:  events.TypePaymentCompleted,
		RunID: r.id,
		Key:   r.cart.Fingerprint,
		Attributes: map[string]any{
			"intent_id":           intentID,
			"success":             outcome.Success,
			"confirmation_number": deref(outcome.ConfirmationNumber),
		},
	})
}

func failedPayment(message string) cart.PaymentResult {
	return cart.PaymentResult{Success: false, ErrorMessage: &message}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package approval

import (
	"context"
	"time"

	"github.com/VenkatGGG/shopping-agent/internal/payment"
)

type PollOptions struct {
	// InitialDelay runs before the first poll; negative skips it.
	InitialDelay time.Duration
	Interval     time.Duration
	Timeout      time.Duration
	// Heartbeat, when set, runs once per poll. Its errors are logged.
	Heartbeat func(context.Context) error
}

func (o PollOptions) withDefaults() PollOptions {
	if o.InitialDelay == 0 {
		o.InitialDelay = 30 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 150 * time.Second
	}
	return o
}

// WaitForApproval polls until the intent's card is released, the intent
// reaches a terminal status, or the timeout elapses. Only the first yields a
// card; the others return (nil, nil) and the payment stays pending. Only
// cancellation is returned as an error. Poll and decrypt failures are
// logged and retried.
func (c *Client) WaitForApproval(ctx context.Context, intentID string, opts PollOptions) (*payment.Method, error) {
	opts = opts.withDefaults()

	c.logger.Printf("waiting before polling credentials: intent_id=%s delay=%s", intentID, opts.InitialDelay)
	if err := c.sleep(ctx, opts.InitialDelay); err != nil {
		return nil, err
	}

	deadline := c.now().Add(opts.Timeout)
	c.logger.Printf("polling credentials: intent_id=%s timeout=%s", intentID, opts.Timeout)
	for c.now().Before(deadline) {
		if opts.Heartbeat != nil {
			if err := opts.Heartbeat(ctx); err != nil {
				c.logger.Printf("poll heartbeat failed: %v", err)
			}
		}

		card, done, err := c.pollOnce(ctx, intentID)
		if err != nil {
			return nil, err
		}
		if done {
			return card, nil
		}

		if err := c.sleep(ctx, opts.Interval); err != nil {
			return nil, err
		}
	}
	c.logger.Printf("approval timed out: intent_id=%s after=%s", intentID, opts.Timeout)
	return nil, nil
}

func (c *Client) pollOnce(ctx context.Context, intentID string) (*payment.Method, bool, error) {
	creds, err := c.Credentials(ctx, intentID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		c.logger.Printf("credentials poll failed: intent_id=%s err=%v", intentID, err)
		return nil, false, nil
	}
	if creds != nil && creds.Ready {
		if creds.EncryptedPaymentMethod == nil {
			c.logger.Printf("credentials ready without encryptedPaymentMethod: intent_id=%s", intentID)
			return nil, true, nil
		}
		card, err := Decrypt(c.privateKey, *creds.EncryptedPaymentMethod)
		if err != nil {
			c.logger.Printf("warning: could not decrypt credentials: intent_id=%s err=%v", intentID, err)
			return nil, false, nil
		}
		c.logger.Printf("credentials released: intent_id=%s card_last4=%s", intentID, card.Last4())
		return card, true, nil
	}

	intent, err := c.IntentStatus(ctx, intentID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		c.logger.Printf("intent status poll failed: intent_id=%s err=%v", intentID, err)
		return nil, false, nil
	}
	if terminalStatuses[intent.Status] {
		reason := intent.ErrorReason
		if reason == "" {
			reason = "no reason given"
		}
		c.logger.Printf("intent %s: intent_id=%s reason=%q", intent.Status, intentID, reason)
		return nil, true, nil
	}
	return nil, false, nil
}

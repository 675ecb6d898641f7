package runstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusRejected    Status = "rejected"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrFinished = errors.New("run already finished")
)

// Run is the durable record of one agent invocation. It carries ids and
// outcomes only; plan, cart and payment data live in the output directory.
type Run struct {
	ID            string     `json:"id"`
	Requirements  string     `json:"requirements"`
	Domain        string     `json:"domain"`
	Status        Status     `json:"status"`
	PlanID        string     `json:"plan_id,omitempty"`
	CartID        string     `json:"cart_id,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	Decision      string     `json:"decision,omitempty"`
	IntentID      string     `json:"intent_id,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type CreateInput struct {
	ID           string
	Requirements string
	Domain       string
}

// Progress sets the non-nil fields on a running record.
type Progress struct {
	PlanID        *string
	CartID        *string
	Fingerprint   *string
	Decision      *string
	IntentID      *string
	PaymentStatus *string
}

type FinishInput struct {
	RunID        string
	Status       Status
	ErrorMessage string
	Completed    time.Time
}

type Store interface {
	Create(ctx context.Context, input CreateInput) (Run, error)
	Record(ctx context.Context, id string, progress Progress) (Run, error)
	Finish(ctx context.Context, input FinishInput) (Run, error)
	Get(ctx context.Context, id string) (Run, error)
}

func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validateCreate(input CreateInput) error {
	if strings.TrimSpace(input.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(input.Requirements) == "" {
		return errors.New("requirements are required")
	}
	return nil
}

func validateFinish(input FinishInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run id is required")
	}
	switch input.Status {
	case StatusSucceeded, StatusRejected, StatusFailed, StatusInterrupted:
		return nil
	default:
		return errors.New("finish status must be terminal")
	}
}

func (p Progress) apply(run *Run) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&run.PlanID, p.PlanID)
	set(&run.CartID, p.CartID)
	set(&run.Fingerprint, p.Fingerprint)
	set(&run.Decision, p.Decision)
	set(&run.IntentID, p.IntentID)
	set(&run.PaymentStatus, p.PaymentStatus)
}

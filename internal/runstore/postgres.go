package runstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore migrates the schema and opens a pool.
func NewPostgresStore(ctx context.Context, dsn string, logger *log.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if err := Migrate(ctx, dsn, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, input CreateInput) (Run, error) {
	if err := validateCreate(input); err != nil {
		return Run{}, err
	}
	now := s.now()
	row := s.pool.QueryRow(ctx, `
INSERT INTO agent_runs (
	id, requirements, domain, status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $5
)
RETURNING `+runColumns, input.ID, input.Requirements, input.Domain, StatusRunning, now)

	created, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Record(ctx context.Context, id string, progress Progress) (Run, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE agent_runs
SET
	plan_id = COALESCE($2, plan_id),
	cart_id = COALESCE($3, cart_id),
	fingerprint = COALESCE($4, fingerprint),
	decision = COALESCE($5, decision),
	intent_id = COALESCE($6, intent_id),
	payment_status = COALESCE($7, payment_status),
	updated_at = $8
WHERE id = $1 AND status = $9
RETURNING `+runColumns,
		id, progress.PlanID, progress.CartID, progress.Fingerprint, progress.Decision,
		progress.IntentID, progress.PaymentStatus, s.now(), StatusRunning)

	updated, err := scanRun(row)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, s.missingOrFinished(ctx, id)
	}
	return Run{}, fmt.Errorf("update run: %w", err)
}

func (s *PostgresStore) Finish(ctx context.Context, input FinishInput) (Run, error) {
	if err := validateFinish(input); err != nil {
		return Run{}, err
	}
	completed := input.Completed
	if completed.IsZero() {
		completed = s.now()
	}
	completed = completed.UTC()

	row := s.pool.QueryRow(ctx, `
UPDATE agent_runs
SET
	status = $2,
	error_message = $3,
	updated_at = $4,
	completed_at = $4
WHERE id = $1 AND status = $5
RETURNING `+runColumns,
		input.RunID, input.Status, nullableString(input.ErrorMessage), completed, StatusRunning)

	updated, err := scanRun(row)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, s.missingOrFinished(ctx, input.RunID)
	}
	return Run{}, fmt.Errorf("finish run: %w", err)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE id = $1`, id)
	found, err := scanRun(row)
	if err == nil {
		return found, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return Run{}, fmt.Errorf("get run: %w", err)
}

func (s *PostgresStore) missingOrFinished(ctx context.Context, id string) error {
	var status Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	return ErrFinished
}

type rowScanner interface {
	Scan(dest ...any) error
}

const runColumns = `
id,
requirements,
domain,
status,
plan_id,
cart_id,
fingerprint,
decision,
intent_id,
payment_status,
error_message,
created_at,
updated_at,
completed_at`

func scanRun(row rowScanner) (Run, error) {
	var item Run
	var planID, cartID, fingerprint, decision, intentID, paymentStatus, errorMessage *string
	var completedAt *time.Time

	err := row.Scan(
		&item.ID,
		&item.Requirements,
		&item.Domain,
		&item.Status,
		&planID,
		&cartID,
		&fingerprint,
		&decision,
		&intentID,
		&paymentStatus,
		&errorMessage,
		&item.CreatedAt,
		&item.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return Run{}, err
	}

	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	item.CompletedAt = utcPtr(completedAt)
	item.PlanID = deref(planID)
	item.CartID = deref(cartID)
	item.Fingerprint = deref(fingerprint)
	item.Decision = deref(decision)
	item.IntentID = deref(intentID)
	item.PaymentStatus = deref(paymentStatus)
	item.ErrorMessage = deref(errorMessage)
	return item, nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := value.UTC()
	return &v
}

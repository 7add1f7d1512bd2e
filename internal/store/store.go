// Package store implements durable persistence for plans, steps, and the
// append-only event transcript, plus a TTL'd key-value cache and the facts
// memory table. SQLite and PostgreSQL backends register themselves through
// the driver sub-packages; blank-import the one you need:
//
//	import _ "github.com/olympus-org/olympus/internal/store/driver/sqlite"
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store/driver"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrationsTable keeps goose's bookkeeping under the canonical name so the
// schema surface stays the six documented tables.
const migrationsTable = "schema_migrations"

// Store is the durable backing for the runtime. All writes are committed
// before the call returns; writers serialize through the driver (WAL plus a
// single connection for SQLite) so concurrent use from multiple goroutines
// is safe.
type Store struct {
	db  *sql.DB
	drv driver.Driver

	// mu serializes read-modify-write sequences (cache counters). Plain
	// single-statement operations rely on the database for atomicity.
	mu sync.Mutex
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open connects to the database named by dsn. A bare path or sqlite:// URL
// opens SQLite; postgres:// opens PostgreSQL. The schema is not touched;
// call EnsureSchema before first use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv, rest, err := driver.Resolve(dsn)
	if err != nil {
		return nil, err
	}
	db, err := drv.Open(ctx, rest)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, drv: drv}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema applies any pending migrations. It is idempotent and safe to
// call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetTableName(migrationsTable)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(s.drv.Dialect()); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+s.drv.Name()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the currently applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, s.db)
}

// UpsertPlan writes the plan row (without its steps).
func (s *Store) UpsertPlan(ctx context.Context, plan *core.Plan) error {
	return s.upsertPlan(ctx, s.db, plan)
}

// UpsertStep writes a single step row. ord fixes the step's position in the
// plan's submitted order.
func (s *Store) UpsertStep(ctx context.Context, planID string, ord int, step *core.Step) error {
	return s.upsertStep(ctx, s.db, planID, ord, step)
}

// SavePlan persists the plan row and every step in one transaction. The
// executor calls this after each state change so a crash never leaves the
// plan and its steps disagreeing.
func (s *Store) SavePlan(ctx context.Context, plan *core.Plan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertPlan(ctx, tx, plan); err != nil {
		return err
	}
	for i, step := range plan.Steps {
		if err := s.upsertStep(ctx, tx, plan.ID, i, step); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan %s: %w", plan.ID, err)
	}
	return nil
}

// GetPlan loads the plan and its steps. Returns core.ErrPlanNotFound when
// the id is unknown.
func (s *Store) GetPlan(ctx context.Context, id string) (*core.Plan, error) {
	query := s.drv.Rebind(`
		SELECT id, title, state, budget_json, metadata_json, created_at, updated_at
		FROM plans WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)

	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", id, err)
	}

	if plan.Steps, err = s.GetSteps(ctx, id); err != nil {
		return nil, err
	}
	return plan, nil
}

// GetSteps returns the plan's steps in submitted order.
func (s *Store) GetSteps(ctx context.Context, planID string) ([]*core.Step, error) {
	query := s.drv.Rebind(`
		SELECT id, name, state, attempts, capability_json, input_json, output_json,
			error, deps_json, guard_json, started_at, ended_at
		FROM steps WHERE plan_id = ? ORDER BY ord`)
	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for plan %s: %w", planID, err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*core.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps for plan %s: %w", planID, err)
	}
	return steps, nil
}

// ListPlans returns up to limit plan rows, newest first, without steps.
func (s *Store) ListPlans(ctx context.Context, limit int) ([]*core.Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.drv.Rebind(`
		SELECT id, title, state, budget_json, metadata_json, created_at, updated_at
		FROM plans ORDER BY created_at DESC, id LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*core.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

// AppendEvent inserts one transcript record and fills in its Seq. Events are
// never updated or deleted.
func (s *Store) AppendEvent(ctx context.Context, ev *core.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	query := s.drv.Rebind(`
		INSERT INTO events (id, ts, type, plan_id, step_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING seq`)
	row := s.db.QueryRowContext(ctx, query,
		ev.ID, ev.TS, ev.Type, ev.PlanID, nullableString(ev.StepID), string(payload))
	if err := row.Scan(&ev.Seq); err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.Type, err)
	}
	return nil
}

// EventsForPlan returns the plan's full transcript ordered by timestamp,
// ties broken by append order.
func (s *Store) EventsForPlan(ctx context.Context, planID string) ([]core.Event, error) {
	query := s.drv.Rebind(`
		SELECT seq, id, ts, type, plan_id, step_id, payload_json
		FROM events WHERE plan_id = ? ORDER BY ts, seq`)
	return s.queryEvents(ctx, query, planID)
}

// EventsAfter returns transcript records appended after the given cursor,
// oldest first. Used by live transcript tails.
func (s *Store) EventsAfter(ctx context.Context, planID string, afterSeq int64) ([]core.Event, error) {
	query := s.drv.Rebind(`
		SELECT seq, id, ts, type, plan_id, step_id, payload_json
		FROM events WHERE plan_id = ? AND seq > ? ORDER BY seq`)
	return s.queryEvents(ctx, query, planID, afterSeq)
}

// LastEventsForStep returns up to limit of the step's most recent events in
// chronological order.
func (s *Store) LastEventsForStep(ctx context.Context, planID, stepID string, limit int) ([]core.Event, error) {
	query := s.drv.Rebind(`
		SELECT seq, id, ts, type, plan_id, step_id, payload_json
		FROM events WHERE plan_id = ? AND step_id = ? ORDER BY seq DESC LIMIT ?`)
	events, err := s.queryEvents(ctx, query, planID, stepID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []core.Event
	for rows.Next() {
		var (
			ev      core.Event
			stepID  sql.NullString
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.TS, &ev.Type, &ev.PlanID, &stepID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.StepID = stepID.String
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func (s *Store) upsertPlan(ctx context.Context, db execer, plan *core.Plan) error {
	budget, err := json.Marshal(plan.Budget)
	if err != nil {
		return fmt.Errorf("failed to marshal plan budget: %w", err)
	}
	metadata, err := json.Marshal(plan.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal plan metadata: %w", err)
	}
	query := s.drv.Rebind(`
		INSERT INTO plans (id, title, state, budget_json, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			budget_json = excluded.budget_json,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at`)
	if _, err := db.ExecContext(ctx, query,
		plan.ID, plan.Title, plan.State.String(), string(budget), string(metadata),
		plan.CreatedAt, plan.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *Store) upsertStep(ctx context.Context, db execer, planID string, ord int, step *core.Step) error {
	capability, err := json.Marshal(step.Capability)
	if err != nil {
		return fmt.Errorf("failed to marshal step capability: %w", err)
	}
	input, err := json.Marshal(step.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}
	deps, err := json.Marshal(step.Deps)
	if err != nil {
		return fmt.Errorf("failed to marshal step deps: %w", err)
	}
	guard, err := json.Marshal(step.Guard)
	if err != nil {
		return fmt.Errorf("failed to marshal step guard: %w", err)
	}
	var output *string
	if step.Output != nil {
		raw, err := json.Marshal(step.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal step output: %w", err)
		}
		text := string(raw)
		output = &text
	}
	query := s.drv.Rebind(`
		INSERT INTO steps (id, plan_id, ord, name, state, attempts, capability_json,
			input_json, output_json, error, deps_json, guard_json, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ord = excluded.ord,
			name = excluded.name,
			state = excluded.state,
			attempts = excluded.attempts,
			capability_json = excluded.capability_json,
			input_json = excluded.input_json,
			output_json = excluded.output_json,
			error = excluded.error,
			deps_json = excluded.deps_json,
			guard_json = excluded.guard_json,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`)
	if _, err := db.ExecContext(ctx, query,
		step.ID, planID, ord, step.Name, step.State.String(), step.Attempts,
		string(capability), string(input), output, nullableString(step.Error),
		string(deps), string(guard), nullableMillis(step.StartedAt), nullableMillis(step.EndedAt)); err != nil {
		return fmt.Errorf("failed to upsert step %s: %w", step.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*core.Plan, error) {
	var (
		plan     core.Plan
		state    string
		budget   string
		metadata string
	)
	err := row.Scan(&plan.ID, &plan.Title, &state, &budget, &metadata,
		&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if plan.State, err = core.ParsePlanStatus(state); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(budget), &plan.Budget); err != nil {
		return nil, fmt.Errorf("failed to decode plan budget: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &plan.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode plan metadata: %w", err)
	}
	return &plan, nil
}

func scanStep(row rowScanner) (*core.Step, error) {
	var (
		step       core.Step
		state      string
		capability string
		input      string
		output     sql.NullString
		errMsg     sql.NullString
		deps       string
		guard      string
		startedAt  sql.NullInt64
		endedAt    sql.NullInt64
	)
	if err := row.Scan(&step.ID, &step.Name, &state, &step.Attempts, &capability,
		&input, &output, &errMsg, &deps, &guard, &startedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("failed to scan step row: %w", err)
	}

	var err error
	if step.State, err = core.ParseStepStatus(state); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(capability), &step.Capability); err != nil {
		return nil, fmt.Errorf("failed to decode step capability: %w", err)
	}
	if err := json.Unmarshal([]byte(input), &step.Input); err != nil {
		return nil, fmt.Errorf("failed to decode step input: %w", err)
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &step.Output); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(deps), &step.Deps); err != nil {
		return nil, fmt.Errorf("failed to decode step deps: %w", err)
	}
	if err := json.Unmarshal([]byte(guard), &step.Guard); err != nil {
		return nil, fmt.Errorf("failed to decode step guard: %w", err)
	}
	step.Error = errMsg.String
	step.StartedAt = startedAt.Int64
	step.EndedAt = endedAt.Int64
	return &step, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableMillis(ms int64) *int64 {
	if ms == 0 {
		return nil
	}
	return &ms
}

package store

import (
	"context"
	"fmt"
)

// Counts is the row and state census exposed through the metrics collector.
type Counts struct {
	PlansByState map[string]int64
	StepsByState map[string]int64
	Events       int64
	Facts        int64
}

// Counts takes a census of the plan and step tables grouped by state plus
// the event and fact row totals. Read at metrics scrape time.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	counts := &Counts{
		PlansByState: make(map[string]int64),
		StepsByState: make(map[string]int64),
	}
	if err := s.countByState(ctx, "plans", counts.PlansByState); err != nil {
		return nil, err
	}
	if err := s.countByState(ctx, "steps", counts.StepsByState); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&counts.Events); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&counts.Facts); err != nil {
		return nil, fmt.Errorf("failed to count facts: %w", err)
	}
	return counts, nil
}

func (s *Store) countByState(ctx context.Context, table string, out map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM `+table+` GROUP BY state`)
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return err
		}
		out[state] = n
	}
	return rows.Err()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/olympus-org/olympus/internal/core"
)

// Fact is one durable memory record. Kind groups facts by origin
// ("observation", "summary", "preference"); Data is free-form.
type Fact struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	CreatedAt int64          `json:"created_at"`
}

// AddFact persists a new fact and returns it with id and timestamp filled.
func (s *Store) AddFact(ctx context.Context, kind string, data map[string]any) (*Fact, error) {
	if data == nil {
		data = map[string]any{}
	}
	fact := &Fact{
		ID:        uuid.New().String(),
		Kind:      kind,
		Data:      data,
		CreatedAt: core.NowMillis(),
	}
	raw, err := json.Marshal(fact.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fact data: %w", err)
	}
	query := s.drv.Rebind(`
		INSERT INTO facts (id, kind, data_json, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, fact.ID, fact.Kind, string(raw), fact.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert fact: %w", err)
	}
	return fact, nil
}

// RecentFacts returns up to limit facts, newest first. An empty kind matches
// all kinds.
func (s *Store) RecentFacts(ctx context.Context, kind string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, kind, data_json, created_at FROM facts
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.drv.Rebind(query), kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facts []Fact
	for rows.Next() {
		var (
			fact Fact
			data string
		)
		if err := rows.Scan(&fact.ID, &fact.Kind, &data, &fact.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &fact.Data); err != nil {
			return nil, fmt.Errorf("failed to decode fact data: %w", err)
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	return facts, nil
}

package storage

import (
	"fmt"
	"time"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// SaveGrant replaces the persisted capability set for a conversation.
// The caller passes the conversation's full Always set each time, so a
// transactional delete-then-insert keeps disk and memory in step.
func (s *Store) SaveGrant(conversationID string, caps []capability.Capability, grantedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin grant save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM capability_grants WHERE conversation_id = ?",
		conversationID,
	); err != nil {
		return fmt.Errorf("clear grants: %w", err)
	}

	for _, c := range caps {
		if _, err := tx.Exec(
			"INSERT INTO capability_grants (conversation_id, capability, granted_at) VALUES (?, ?, ?)",
			conversationID, c.String(), grantedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert grant %s: %w", c, err)
		}
	}

	return tx.Commit()
}

// DeleteGrants removes every persisted grant for a conversation.
func (s *Store) DeleteGrants(conversationID string) error {
	_, err := s.db.Exec(
		"DELETE FROM capability_grants WHERE conversation_id = ?",
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("delete grants: %w", err)
	}
	return nil
}

// LoadGrants returns all persisted grants keyed by conversation. Rows
// with unknown capability names are skipped rather than failing startup;
// they can only appear after a downgrade.
func (s *Store) LoadGrants() (map[string][]capability.Capability, error) {
	rows, err := s.db.Query(
		"SELECT conversation_id, capability FROM capability_grants ORDER BY conversation_id",
	)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]capability.Capability)
	for rows.Next() {
		var conv, name string
		if err := rows.Scan(&conv, &name); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		c, err := capability.Parse(name)
		if err != nil {
			continue
		}
		out[conv] = append(out[conv], c)
	}
	return out, rows.Err()
}

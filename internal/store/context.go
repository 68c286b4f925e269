package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetGroup loads the group attributes consulted before any chat operation:
// the membership set for authorization and the descriptive fields for the
// chatbot context. Soft-deleted groups are treated as missing.
func (s *ChatStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var item Group
	var description sql.NullString
	var membersRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, COALESCE(group_type, 'personal'), members
		FROM groups
		WHERE id=$1 AND deleted_at IS NULL
	`, groupID).Scan(&item.ID, &item.Name, &description, &item.GroupType, &membersRaw)
	if err != nil {
		return Group{}, err
	}
	item.Description = description.String
	_ = json.Unmarshal(membersRaw, &item.Members)
	return item, nil
}

// ListGroupEvents returns the group's events ordered soonest first.
func (s *ChatStore) ListGroupEvents(ctx context.Context, groupID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, title, COALESCE(description, ''), date_time
		FROM events
		WHERE group_id=$1
		ORDER BY date_time ASC NULLS LAST
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		var item Event
		var dateTime sql.NullTime
		if err := rows.Scan(&item.ID, &item.GroupID, &item.Title, &item.Description, &dateTime); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if dateTime.Valid {
			item.DateTime = &dateTime.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// ListEventPolls returns up to limit polls attached to the given events,
// options included. Polls hang off events, not groups directly.
func (s *ChatStore) ListEventPolls(ctx context.Context, eventIDs []string, limit int) ([]Poll, error) {
	if len(eventIDs) == 0 {
		return []Poll{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	encoded, err := json.Marshal(eventIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal event ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, question
		FROM polls
		WHERE event_id IN (SELECT value::uuid FROM jsonb_array_elements_text($1::jsonb) AS t(value))
		ORDER BY created_at DESC
		LIMIT $2
	`, string(encoded), limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	items := make([]Poll, 0)
	for rows.Next() {
		var item Poll
		if err := rows.Scan(&item.ID, &item.EventID, &item.Question); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls: %w", err)
	}

	for i := range items {
		options, err := s.listPollOptions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Options = options
	}
	return items, nil
}

func (s *ChatStore) listPollOptions(ctx context.Context, pollID string) ([]PollOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, poll_id, text
		FROM poll_options
		WHERE poll_id=$1
		ORDER BY id ASC
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("list poll options: %w", err)
	}
	defer rows.Close()

	items := make([]PollOption, 0)
	for rows.Next() {
		var item PollOption
		if err := rows.Scan(&item.ID, &item.PollID, &item.Text); err != nil {
			return nil, fmt.Errorf("scan poll option: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poll options: %w", err)
	}
	return items, nil
}

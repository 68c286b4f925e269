package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// BotUsername is the reserved profile username for the chat assistant.
const BotUsername = "planpal-bot"

func (s *ChatStore) GetProfile(ctx context.Context, profileID string) (*Profile, error) {
	var item Profile
	var avatarURL, email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(username, ''), COALESCE(full_name, ''), avatar_url, email
		FROM profiles
		WHERE id=$1
	`, profileID).Scan(&item.ID, &item.Username, &item.FullName, &avatarURL, &email)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	item.AvatarURL = avatarURL.String
	item.Email = email.String
	return &item, nil
}

func (s *ChatStore) FindProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	var item Profile
	var avatarURL, email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(username, ''), COALESCE(full_name, ''), avatar_url, email
		FROM profiles
		WHERE username=$1
	`, username).Scan(&item.ID, &item.Username, &item.FullName, &avatarURL, &email)
	if err != nil {
		return nil, err
	}
	item.AvatarURL = avatarURL.String
	item.Email = email.String
	return &item, nil
}

// EnsureBotProfile returns the id of the reserved bot profile, creating it on
// first use. The unique index on username makes concurrent first creations
// converge on a single row: the loser's insert is a no-op and the winner's id
// is read back.
func (s *ChatStore) EnsureBotProfile(ctx context.Context) (string, error) {
	existing, err := s.FindProfileByUsername(ctx, BotUsername)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find bot profile: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, username, full_name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET username=EXCLUDED.username
		RETURNING id
	`, uuid.NewString(), BotUsername, "PlanPal Bot", "planpal-bot@system.local").Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create bot profile: %w", err)
	}
	return id, nil
}

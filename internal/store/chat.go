package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrInvalidBody = errors.New("message must be between 1 and 1000 characters")
	ErrInvalidKind = errors.New("invalid message type")
)

var allowedKinds = map[string]struct{}{
	KindText:       {},
	KindImage:      {},
	KindSystem:     {},
	KindBotQuery:   {},
	KindAttachment: {},
}

// FeedNotifier receives a row-insert notification after a successful write.
// Delivery is best effort; the send itself never fails on a notify error.
type FeedNotifier interface {
	MessageInserted(ctx context.Context, table string, msg Message)
}

// ChatStore persists and retrieves chat messages for groups, resolving the
// live schema variant once and remapping field names transparently.
type ChatStore struct {
	db       *sql.DB
	notifier FeedNotifier

	mu      sync.Mutex
	variant Variant
	probed  bool
}

func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) DB() *sql.DB {
	return s.db
}

// SetNotifier wires the change-feed publisher. Safe to leave unset.
func (s *ChatStore) SetNotifier(n FeedNotifier) {
	s.notifier = n
}

// DetectVariant probes variant A with a cheap existence query and falls back
// to variant B if the probe errors. The result is cached for the store's
// lifetime; Reprobe clears it.
func (s *ChatStore) DetectVariant(ctx context.Context) Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probed {
		return s.variant
	}
	s.variant = s.probeLocked(ctx)
	s.probed = true
	return s.variant
}

// Reprobe discards the cached variant and detects again.
func (s *ChatStore) Reprobe(ctx context.Context) Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variant = s.probeLocked(ctx)
	s.probed = true
	return s.variant
}

func (s *ChatStore) probeLocked(ctx context.Context) Variant {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM chat_messages LIMIT 1`).Scan(&id)
	// An empty table still proves the table exists.
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return VariantChatMessages
	}
	return VariantMessages
}

func validateKind(kind string) error {
	if _, ok := allowedKinds[kind]; !ok {
		return ErrInvalidKind
	}
	return nil
}

// validateUserBody enforces the 1..1000 character limit on user input. The
// limit counts runes, not bytes; a 400-character message is fine in any
// script. Assistant replies are exempt, see InsertReply.
func validateUserBody(body string) error {
	if strings.TrimSpace(body) == "" || utf8.RuneCountInString(body) > 1000 {
		return ErrInvalidBody
	}
	return nil
}

// Send validates and persists a user message, returning the stored row with a
// best-effort author profile join. A nil authorID records a system notice.
func (s *ChatStore) Send(ctx context.Context, groupID string, authorID *string, body, kind string) (Message, error) {
	if kind == "" {
		kind = KindText
	}
	if err := validateKind(kind); err != nil {
		return Message{}, err
	}
	if err := validateUserBody(body); err != nil {
		return Message{}, err
	}
	return s.insert(ctx, groupID, authorID, body, kind)
}

// InsertReply persists an assistant or system message. Replies skip the
// user-input length cap: the model is asked for short answers but nothing
// guarantees it, and dropping a generated reply on the floor is worse than
// storing a long one. Blank bodies are still rejected.
func (s *ChatStore) InsertReply(ctx context.Context, groupID string, authorID *string, body, kind string) (Message, error) {
	if kind == "" {
		kind = KindText
	}
	if err := validateKind(kind); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrInvalidBody
	}
	return s.insert(ctx, groupID, authorID, body, kind)
}

func (s *ChatStore) insert(ctx context.Context, groupID string, authorID *string, body, kind string) (Message, error) {
	variant := s.DetectVariant(ctx)
	bodyCol, bodyVal, extraCol, extraVal := insertColumns(variant, body, kind)

	msg := Message{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		AuthorID: authorID,
		Body:     body,
		Kind:     kind,
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, group_id, user_id, %s, %s)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, variant, bodyCol, extraCol)
	var author any
	if authorID != nil {
		author = *authorID
	}
	if err := s.db.QueryRowContext(ctx, query, msg.ID, groupID, author, bodyVal, nullIfEmpty(extraVal)).Scan(&msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	applyInsertMapping(variant, &msg, extraVal)

	if authorID != nil {
		if profile, err := s.GetProfile(ctx, *authorID); err == nil {
			msg.AuthorProfile = profile
		}
	}

	if s.notifier != nil {
		s.notifier.MessageInserted(ctx, string(variant), msg)
	}
	return msg, nil
}

// List returns one chronological page. The query runs newest-first so the
// offset counts back from the tail, then the page is reversed.
func (s *ChatStore) List(ctx context.Context, groupID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	variant := s.DetectVariant(ctx)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.group_id=$1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, selectColumns(variant), variant)
	rows, err := s.db.QueryContext(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	items, err := scanMessages(variant, rows)
	if err != nil {
		return nil, err
	}
	reverse(items)
	return items, nil
}

// ListBefore returns up to limit messages strictly older than the given
// timestamp, chronological. Used for backward pagination from a live tail.
func (s *ChatStore) ListBefore(ctx context.Context, groupID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	variant := s.DetectVariant(ctx)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.group_id=$1 AND m.created_at < $2
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, selectColumns(variant), variant)
	rows, err := s.db.QueryContext(ctx, query, groupID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch older messages: %w", err)
	}
	defer rows.Close()

	items, err := scanMessages(variant, rows)
	if err != nil {
		return nil, err
	}
	reverse(items)
	return items, nil
}

// ListRecent returns the last 24 hours of messages, chronological.
func (s *ChatStore) ListRecent(ctx context.Context, groupID string) ([]Message, error) {
	variant := s.DetectVariant(ctx)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.group_id=$1 AND m.created_at >= $2
		ORDER BY m.created_at ASC, m.id ASC
	`, selectColumns(variant), variant)
	rows, err := s.db.QueryContext(ctx, query, groupID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(variant, rows)
}

// Ping verifies the database connection is alive
func (s *ChatStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func selectColumns(v Variant) string {
	if v == VariantChatMessages {
		return `m.id, m.group_id, m.user_id, m.message, COALESCE(m.message_type, 'text'), m.created_at, p.full_name, p.avatar_url`
	}
	return `m.id, m.group_id, m.user_id, m.content, COALESCE(m.attachment_url, ''), m.created_at, p.full_name, p.avatar_url`
}

func scanMessages(v Variant, rows *sql.Rows) ([]Message, error) {
	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		var authorID, fullName, avatarURL sql.NullString
		var extra string
		if err := rows.Scan(&item.ID, &item.GroupID, &authorID, &item.Body, &extra, &item.CreatedAt, &fullName, &avatarURL); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if v == VariantChatMessages {
			item.Kind = extra
		} else {
			item.AttachmentURL = extra
		}
		if authorID.Valid {
			item.AuthorID = &authorID.String
		}
		if fullName.Valid {
			item.AuthorProfile = &Profile{
				ID:        stringOrEmpty(item.AuthorID),
				FullName:  fullName.String,
				AvatarURL: avatarURL.String,
			}
		}
		normalize(v, &item)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func reverse(items []Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

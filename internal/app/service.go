package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"planpal/api/internal/auth"
	"planpal/api/internal/chatbot"
	"planpal/api/internal/config"
	"planpal/api/internal/store"
)

type Session struct {
	UserID   string
	UserName string
}

// botQueryPrefix in a message body routes it through the assistant.
const botQueryPrefix = "@bot"

type chatStore interface {
	Send(ctx context.Context, groupID string, authorID *string, body, kind string) (store.Message, error)
	InsertReply(ctx context.Context, groupID string, authorID *string, body, kind string) (store.Message, error)
	List(ctx context.Context, groupID string, limit, offset int) ([]store.Message, error)
	ListRecent(ctx context.Context, groupID string) ([]store.Message, error)
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	GetProfile(ctx context.Context, profileID string) (*store.Profile, error)
	Ping(ctx context.Context) error
}

type botPipeline interface {
	Respond(ctx context.Context, groupID, message, userID string) string
	Query(ctx context.Context, groupID, message, userID string) chatbot.Result
}

type uploader interface {
	Upload(ctx context.Context, groupID, userID, filename string, body io.Reader, size int64) (string, error)
}

type Service struct {
	store   chatStore
	bot     botPipeline
	uploads uploader
	secret  []byte
}

// NewService wires the app layer. uploads may be nil when object storage is
// not configured; attachment routes then answer 503.
func NewService(cfg config.Config, s chatStore, bot botPipeline, uploads uploader) *Service {
	return &Service{
		store:   s,
		bot:     bot,
		uploads: uploads,
		secret:  []byte(cfg.JWTSecret),
	}
}

// SessionFromToken verifies a bearer token issued by the identity service.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Sub, UserName: claims.Name}, nil
}

// requireMember loads the group and checks the session user belongs to it.
func (s *Service) requireMember(ctx context.Context, groupID, userID string) (store.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, domainError(http.StatusNotFound, "NOT_FOUND", "Group not found", nil)
	}
	if err != nil {
		return store.Group{}, fmt.Errorf("load group: %w", err)
	}
	for _, member := range group.Members {
		if member == userID {
			return group, nil
		}
	}
	return store.Group{}, domainError(http.StatusForbidden, "FORBIDDEN", "You are not a member of this group", nil)
}

type SendMessageOutput struct {
	UserMessage store.Message  `json:"userMessage"`
	BotMessage  *store.Message `json:"botMessage,omitempty"`
}

// SendMessage persists one message for a group member. A "@bot" prefixed
// body (or an explicit bot_query kind) additionally runs the assistant and
// posts its reply to the group as an authorless system message, returned
// alongside the user's message.
func (s *Service) SendMessage(ctx context.Context, session Session, groupID, body, kind string) (SendMessageOutput, error) {
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return SendMessageOutput{}, err
	}

	trimmed := strings.TrimSpace(body)
	// Prefix matching is case-insensitive; "@Bot plan dinner" asks too.
	hasPrefix := strings.HasPrefix(strings.ToLower(trimmed), botQueryPrefix)
	isBotQuery := kind == store.KindBotQuery || hasPrefix
	if isBotQuery {
		kind = store.KindBotQuery
	}

	userMessage, err := s.store.Send(ctx, groupID, &session.UserID, body, kind)
	if err != nil {
		return SendMessageOutput{}, err
	}
	out := SendMessageOutput{UserMessage: userMessage}

	if isBotQuery && s.bot != nil {
		question := trimmed
		if hasPrefix {
			question = strings.TrimSpace(trimmed[len(botQueryPrefix):])
		}
		if question == "" {
			question = trimmed
		}
		response := s.bot.Respond(ctx, groupID, question, session.UserID)
		botMessage, err := s.store.InsertReply(ctx, groupID, nil, response, store.KindSystem)
		if err != nil {
			log.Printf("chat: persist bot reply: %v", err)
		} else {
			out.BotMessage = &botMessage
		}
	}
	return out, nil
}

type ListMessagesOutput struct {
	Messages []store.Message `json:"messages"`
	GroupID  string          `json:"group_id"`
	Count    int             `json:"count"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

func (s *Service) ListMessages(ctx context.Context, session Session, groupID string, limit, offset int) (ListMessagesOutput, error) {
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return ListMessagesOutput{}, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	messages, err := s.store.List(ctx, groupID, limit, offset)
	if err != nil {
		return ListMessagesOutput{}, err
	}
	return ListMessagesOutput{
		Messages: messages,
		GroupID:  groupID,
		Count:    len(messages),
		Limit:    limit,
		Offset:   offset,
	}, nil
}

type RecentMessagesOutput struct {
	Messages  []store.Message `json:"messages"`
	GroupID   string          `json:"group_id"`
	Count     int             `json:"count"`
	Timeframe string          `json:"timeframe"`
}

func (s *Service) RecentMessages(ctx context.Context, session Session, groupID string) (RecentMessagesOutput, error) {
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return RecentMessagesOutput{}, err
	}
	messages, err := s.store.ListRecent(ctx, groupID)
	if err != nil {
		return RecentMessagesOutput{}, err
	}
	return RecentMessagesOutput{
		Messages:  messages,
		GroupID:   groupID,
		Count:     len(messages),
		Timeframe: "last 24 hours",
	}, nil
}

// QueryChatbot answers an assistant question directly. Input is validated
// here and a missing pipeline answers 503; past that the pipeline itself
// cannot fail.
func (s *Service) QueryChatbot(ctx context.Context, session Session, groupID, message string) (chatbot.Result, error) {
	if strings.TrimSpace(groupID) == "" {
		return chatbot.Result{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "groupId is required", nil)
	}
	if trimmed := strings.TrimSpace(message); trimmed == "" || utf8.RuneCountInString(message) > 1000 {
		return chatbot.Result{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "message must be between 1 and 1000 characters", nil)
	}
	if s.bot == nil {
		return chatbot.Result{}, domainError(http.StatusServiceUnavailable, "CHATBOT_UNAVAILABLE", "Chatbot service is not configured", nil)
	}
	return s.bot.Query(ctx, groupID, message, session.UserID), nil
}

func (s *Service) GetProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Profile not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

// UploadAttachment stores the file and posts an attachment message carrying
// its public URL.
func (s *Service) UploadAttachment(ctx context.Context, session Session, groupID, filename string, body io.Reader, size int64) (store.Message, string, error) {
	if s.uploads == nil {
		return store.Message{}, "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return store.Message{}, "", err
	}
	url, err := s.uploads.Upload(ctx, groupID, session.UserID, filename, body, size)
	if err != nil {
		return store.Message{}, "", fmt.Errorf("upload attachment: %w", err)
	}
	msg, err := s.store.Send(ctx, groupID, &session.UserID, url, store.KindAttachment)
	if err != nil {
		return store.Message{}, "", err
	}
	return msg, url, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IssueToken mints a short-lived session token. Used by tooling and tests;
// production tokens come from the identity service.
func (s *Service) IssueToken(userID, userName string, ttl time.Duration) (string, error) {
	return auth.IssueToken(s.secret, auth.Claims{
		Sub:  userID,
		Name: userName,
		Exp:  time.Now().Add(ttl).Unix(),
	})
}

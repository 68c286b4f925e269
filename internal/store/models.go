package store

import "time"

// Profile is the display identity attached to a message author. Rows live in
// the profiles table; lifecycle is owned by the identity service, this API
// only reads them (and creates the single bot profile on first use).
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Message is the logical chat row, normalized across both schema variants.
// AuthorID is nil for pure system notices.
type Message struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	AuthorID      *string   `json:"user_id"`
	Body          string    `json:"message"`
	Kind          string    `json:"message_type"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorProfile *Profile  `json:"profiles,omitempty"`
}

const (
	KindText       = "text"
	KindImage      = "image"
	KindSystem     = "system"
	KindBotQuery   = "bot_query"
	KindAttachment = "attachment"
)

// Group carries the attributes consulted for membership checks and chatbot
// context. Members is the jsonb member-id array on the groups row.
type Group struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	GroupType   string   `json:"group_type"`
	Members     []string `json:"members"`
}

type Event struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DateTime    *time.Time `json:"date_time"`
}

type Poll struct {
	ID       string       `json:"id"`
	EventID  string       `json:"event_id"`
	Question string       `json:"question"`
	Options  []PollOption `json:"poll_options"`
}

type PollOption struct {
	ID     string `json:"id"`
	PollID string `json:"poll_id"`
	Text   string `json:"text"`
}

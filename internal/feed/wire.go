package feed

import (
	"time"

	"planpal/api/internal/store"
)

// Envelope is the change-feed wire contract: one row-insert event per
// message, the freshly inserted row under "new".
type Envelope struct {
	New Row `json:"new"`
}

// Row is the union of both variants' column names. A published row fills only
// the columns its variant actually has; the subscriber side normalizes back
// to the logical model.
type Row struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	UserID        *string   `json:"user_id"`
	Message       string    `json:"message,omitempty"`
	MessageType   string    `json:"message_type,omitempty"`
	Content       string    `json:"content,omitempty"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// rowFromMessage maps a logical message onto the given variant's columns.
func rowFromMessage(variant store.Variant, msg store.Message) Row {
	row := Row{
		ID:        msg.ID,
		GroupID:   msg.GroupID,
		UserID:    msg.AuthorID,
		CreatedAt: msg.CreatedAt,
	}
	if variant == store.VariantChatMessages {
		row.Message = msg.Body
		row.MessageType = msg.Kind
		return row
	}
	if msg.Kind == store.KindAttachment {
		row.AttachmentURL = msg.AttachmentURL
		if row.AttachmentURL == "" {
			row.AttachmentURL = msg.Body
		}
		return row
	}
	row.Content = msg.Body
	return row
}

// messageFromRow normalizes a variant-native row to the logical model.
func messageFromRow(variant store.Variant, row Row) store.Message {
	msg := store.Message{
		ID:        row.ID,
		GroupID:   row.GroupID,
		AuthorID:  row.UserID,
		CreatedAt: row.CreatedAt,
	}
	if variant == store.VariantChatMessages {
		msg.Body = row.Message
		msg.Kind = row.MessageType
		if msg.Kind == "" {
			msg.Kind = store.KindText
		}
		if msg.Kind == store.KindAttachment {
			msg.AttachmentURL = row.Message
		}
		return msg
	}
	if row.AttachmentURL != "" {
		msg.Kind = store.KindAttachment
		msg.AttachmentURL = row.AttachmentURL
		msg.Body = row.AttachmentURL
		if row.Content != "" {
			msg.Body = row.Content
		}
		return msg
	}
	msg.Body = row.Content
	msg.Kind = store.KindText
	return msg
}

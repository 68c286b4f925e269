package store

// Variant identifies which of the two historical chat table shapes is live.
// Variant A (chat_messages) stores the body under a "message" column with an
// explicit message_type; variant B (messages) stores it under "content" with
// a separate attachment_url column and no type. The two are semantically
// equivalent and every row is normalized to the logical Message model before
// leaving this package.
type Variant string

const (
	// VariantChatMessages is variant A, the preferred table.
	VariantChatMessages Variant = "chat_messages"
	// VariantMessages is variant B, the legacy fallback table.
	VariantMessages Variant = "messages"
)

// insertColumns returns the body-bearing columns for an insert into the
// given variant, already mapped from the logical (body, kind) pair.
func insertColumns(v Variant, body, kind string) (bodyColumn, bodyValue, extraColumn, extraValue string) {
	if v == VariantChatMessages {
		return "message", body, "message_type", kind
	}
	// Variant B has no kind column; attachments ride in attachment_url and
	// everything else is plain content.
	if kind == KindAttachment {
		return "content", "", "attachment_url", body
	}
	return "content", body, "attachment_url", ""
}

// applyInsertMapping mirrors the stored columns back onto the logical row so
// the returned message agrees with what the insert actually wrote. Without
// this a variant-B attachment would come back as plain text: its URL lives in
// the extra column, not in the body the caller passed.
func applyInsertMapping(v Variant, msg *Message, extraValue string) {
	if v == VariantMessages {
		msg.AttachmentURL = extraValue
	}
	normalize(v, msg)
}

// normalize maps a variant-B row back onto the logical fields. Variant A rows
// are already logical apart from the column name handled at scan time.
func normalize(v Variant, msg *Message) {
	if v == VariantChatMessages {
		if msg.Kind == "" {
			msg.Kind = KindText
		}
		if msg.Kind == KindAttachment {
			msg.AttachmentURL = msg.Body
		}
		return
	}
	if msg.AttachmentURL != "" {
		msg.Kind = KindAttachment
		if msg.Body == "" {
			msg.Body = msg.AttachmentURL
		}
		return
	}
	msg.Kind = KindText
}

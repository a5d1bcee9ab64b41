package domain

import "strings"

// InboundEvent is one message, quick-reply tap or postback received from the
// messaging platform.
type InboundEvent struct {
	SenderID          string
	MessageID         string
	Text              string
	QuickReplyPayload string
	PostbackPayload   string
	Timestamp         int64
}

// Payload returns the quick-reply payload, falling back to the postback payload.
func (e InboundEvent) Payload() string {
	if p := strings.TrimSpace(e.QuickReplyPayload); p != "" {
		return p
	}
	return strings.TrimSpace(e.PostbackPayload)
}

// HasPayload reports whether the user tapped a quick reply or button.
func (e InboundEvent) HasPayload() bool {
	return e.Payload() != ""
}

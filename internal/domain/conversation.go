package domain

import "time"

// ConversationStatus is the position of a user in the dialogue.
type ConversationStatus string

const (
	StatusInit             ConversationStatus = "init"
	StatusWaiting          ConversationStatus = "waiting"
	StatusBeginAddCategory ConversationStatus = "begin_add_category"
	StatusBeginAddData     ConversationStatus = "begin_add_data"
	StatusDraftAddData     ConversationStatus = "draft_add_data"
	StatusConfirmAddData   ConversationStatus = "confirm_add_data"
)

func (s ConversationStatus) String() string { return string(s) }

func (s ConversationStatus) IsValid() bool {
	switch s {
	case StatusInit, StatusWaiting, StatusBeginAddCategory, StatusBeginAddData,
		StatusDraftAddData, StatusConfirmAddData:
		return true
	}
	return false
}

// Conversation carries the dialogue position of one user across stateless
// webhook calls. Version is the optimistic-lock counter checked on save.
type Conversation struct {
	UserID        string
	Status        ConversationStatus
	ActiveEntryID string
	Version       int
	UpdatedAt     time.Time
}

// NewConversation returns the conversation of a user seen for the first time.
func NewConversation(userID string) Conversation {
	return Conversation{UserID: userID, Status: StatusInit}
}

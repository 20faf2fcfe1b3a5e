package chat

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// PlaceholderTitle is what a conversation is called until a title is derived.
	PlaceholderTitle = "New Conversation"
)

type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	UserID         string    `gorm:"type:varchar(128);index:idx_chat_conv_user_updated,priority:1;not null" json:"-"`
	Title          string    `gorm:"type:varchar(255);not null" json:"title"`
	Provider       string    `gorm:"type:varchar(32);not null" json:"provider"`
	Model          string    `gorm:"type:varchar(64);not null" json:"model"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `gorm:"index:idx_chat_conv_user_updated,priority:2" json:"updatedAt"`
}

func (Conversation) TableName() string { return "chat_conversations" }

// Attachment is immutable once it has been attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "image" or "file"
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	PublicID string `json:"publicId,omitempty"`
}

const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

type Message struct {
	ID             uint64                         `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID      string                         `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	ConversationID string                         `gorm:"type:varchar(26);not null;index:idx_chat_msg_conv_created,priority:1;index:uniq_chat_msg_idempo,unique,priority:2" json:"conversationId"`
	UserID         string                         `gorm:"type:varchar(128);not null;index:uniq_chat_msg_idempo,unique,priority:1" json:"-"`
	Role           string                         `gorm:"type:varchar(16);not null" json:"role"`
	Content        string                         `gorm:"type:text;not null" json:"content"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments"`
	Edited         bool                           `gorm:"not null;default:false" json:"edited"`
	IdempotencyKey *string                        `gorm:"type:varchar(128);index:uniq_chat_msg_idempo,unique,priority:3" json:"-"`
	CreatedAt      time.Time                      `gorm:"index:idx_chat_msg_conv_created,priority:2" json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

// Models lists every table the chat package owns, for migrations.
func Models() []any {
	return []any{&Conversation{}, &Message{}}
}

func attachmentURLs(atts []Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.URL)
	}
	return out
}

func sameAttachments(a, b []Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].URL != b[i].URL {
			return false
		}
	}
	return true
}

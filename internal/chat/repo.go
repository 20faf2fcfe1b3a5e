package chat

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/galaxy-chat/internal/common"
	"gorm.io/gorm"
)

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

// timestamp is millisecond precision UTC, the finest both MySQL datetime(3)
// and the sqlite text encoding keep.
func (r *Repo) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Conversations

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ConversationID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		c.ConversationID = id
	}
	if c.Title == "" {
		c.Title = PlaceholderTitle
	}
	now := r.timestamp()
	c.CreatedAt, c.UpdatedAt = now, now
	return r.db.WithContext(ctx).Create(c).Error
}

// GetConversation is owner scoped: another user's conversation is ErrNotFound.
func (r *Repo) GetConversation(ctx context.Context, owner, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, owner).
		First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListConversations returns the owner's conversations, most recently active first.
func (r *Repo) ListConversations(ctx context.Context, owner string) ([]Conversation, error) {
	var out []Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UpdateTitle(ctx context.Context, owner, conversationID, title string) error {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, owner).
		Updates(map[string]any{"title": title, "updated_at": r.timestamp()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePlaceholderTitle sets the title only while it is still the
// placeholder, so a user rename is never overwritten by a late derivation.
func (r *Repo) ReplacePlaceholderTitle(ctx context.Context, conversationID, title string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ? AND title = ?", conversationID, PlaceholderTitle).
		Update("title", title)
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) TouchConversation(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("updated_at", r.timestamp()).Error
}

// DeleteConversation removes the conversation and all of its messages and
// returns the deleted messages.
func (r *Repo) DeleteConversation(ctx context.Context, owner, conversationID string) ([]Message, error) {
	var deleted []Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND user_id = ?", conversationID, owner).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, owner).
			Find(&deleted).Error; err != nil {
			return err
		}
		return tx.Where("conversation_id = ? AND user_id = ?", conversationID, owner).
			Delete(&Message{}).Error
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.MessageID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		m.MessageID = id
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.timestamp()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessageByIdempotencyKey(ctx context.Context, owner, conversationID, key string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ? AND idempotency_key = ?", owner, conversationID, key).
		First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// InsertUserMessageOrGetExisting inserts m, but if (user_id, conversation_id,
// idempotency_key) already exists it returns the existing message instead.
// The bool reports whether m was inserted.
func (r *Repo) InsertUserMessageOrGetExisting(ctx context.Context, m *Message) (*Message, bool, error) {
	if m.IdempotencyKey != nil && *m.IdempotencyKey == "" {
		m.IdempotencyKey = nil
	}
	if m.IdempotencyKey == nil {
		if err := r.InsertMessage(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	}

	err := r.InsertMessage(ctx, m)
	if err == nil {
		return m, true, nil
	}

	existing, getErr := r.GetMessageByIdempotencyKey(ctx, m.UserID, m.ConversationID, *m.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// FindRecentDuplicate returns the newest message with the same role, content
// and attachment URLs created at or after since, or nil.
func (r *Repo) FindRecentDuplicate(ctx context.Context, owner, conversationID, role, content string, atts []Attachment, since time.Time) (*Message, error) {
	var candidates []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ? AND role = ? AND content = ? AND created_at >= ?",
			conversationID, owner, role, content, since).
		Order("created_at DESC").
		Order("id DESC").
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	for i := range candidates {
		if sameAttachments(candidates[i].Attachments, atts) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// HasRecent reports whether a message with the same role and content was
// created within window, regardless of attachments.
func (r *Repo) HasRecent(ctx context.Context, owner, conversationID, role, content string, window time.Duration) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND user_id = ? AND role = ? AND content = ? AND created_at >= ?",
			conversationID, owner, role, content, r.timestamp().Add(-window)).
		Count(&n).Error
	return n > 0, err
}

// ListHistory returns the conversation in (created_at, id) order. limit > 0
// keeps only the newest limit messages.
func (r *Repo) ListHistory(ctx context.Context, owner, conversationID string, limit int) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, owner)

	var msgs []Message
	if limit <= 0 {
		if err := q.Order("created_at ASC").Order("id ASC").Find(&msgs).Error; err != nil {
			return nil, err
		}
		return msgs, nil
	}

	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage is owner scoped.
func (r *Repo) GetMessage(ctx context.Context, owner, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, owner).
		First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// UpdateContent overwrites the content and marks the message edited.
func (r *Repo) UpdateContent(ctx context.Context, m *Message, content string) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND user_id = ?", m.ID, m.UserID).
		Updates(map[string]any{"content": content, "edited": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	m.Content = content
	m.Edited = true
	return nil
}

// laterThan selects messages strictly after ref in (created_at, id) order.
func laterThan(tx *gorm.DB, ref *Message) *gorm.DB {
	return tx.Where("conversation_id = ? AND user_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))",
		ref.ConversationID, ref.UserID, ref.CreatedAt, ref.CreatedAt, ref.ID)
}

// DeleteAfter deletes every message strictly after ref in its conversation
// with one DELETE statement and returns what was removed. Repeating it is a no-op.
func (r *Repo) DeleteAfter(ctx context.Context, ref *Message) ([]Message, error) {
	var deleted []Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := laterThan(tx, ref).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return laterThan(tx, ref).Delete(&Message{}).Error
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *Repo) DeleteMessage(ctx context.Context, owner, messageID string) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ? AND user_id = ?", messageID, owner).First(&m).Error; err != nil {
			return notFound(err)
		}
		return tx.Delete(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxTitleLen = 255

func (s *Service) CreateConversation(ctx context.Context, owner, title, provider, model string) (*Conversation, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	if provider == "" {
		provider, model = s.opts.DefaultProvider, s.opts.DefaultModel
	} else if !slices.Contains(s.registry.Names(), strings.ToLower(strings.TrimSpace(provider))) {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, provider)
	}
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title too long", ErrInvalidRequest)
	}

	conv := &Conversation{UserID: owner, Title: title, Provider: provider, Model: model}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, owner string) ([]Conversation, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	return s.repo.ListConversations(ctx, owner)
}

func (s *Service) GetConversation(ctx context.Context, owner, conversationID string) (*Conversation, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	return s.repo.GetConversation(ctx, owner, conversationID)
}

func (s *Service) RenameConversation(ctx context.Context, owner, conversationID, title string) (*Conversation, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidRequest, maxTitleLen)
	}
	if err := s.repo.UpdateTitle(ctx, owner, conversationID, title); err != nil {
		return nil, err
	}
	return s.repo.GetConversation(ctx, owner, conversationID)
}

// DeleteConversation removes the conversation with all its messages.
func (s *Service) DeleteConversation(ctx context.Context, owner, conversationID string) error {
	if owner == "" {
		return ErrUnauthorized
	}
	if _, err := s.repo.GetConversation(ctx, owner, conversationID); err != nil {
		return err
	}

	unlock, err := s.opts.Locker.Lock(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	deleted, err := s.repo.DeleteConversation(ctx, owner, conversationID)
	if err != nil {
		return err
	}
	s.states.set(conversationID, StateIdle)
	s.cleanupAttachments(deleted)
	s.log.Info("conversation deleted", zap.String("conversation_id", conversationID), zap.Int("messages", len(deleted)))
	return nil
}

// ListMessages returns the whole conversation in order.
func (s *Service) ListMessages(ctx context.Context, owner, conversationID string) ([]Message, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	if _, err := s.repo.GetConversation(ctx, owner, conversationID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, owner, conversationID, 0)
}

// CheckDuplicate reports whether the same content was sent with the same
// role in the last few seconds.
func (s *Service) CheckDuplicate(ctx context.Context, owner, conversationID, role, content string) (bool, error) {
	if owner == "" {
		return false, ErrUnauthorized
	}
	if conversationID == "" || (role != RoleUser && role != RoleAssistant) {
		return false, fmt.Errorf("%w: conversationId and role required", ErrInvalidRequest)
	}
	return s.repo.HasRecent(ctx, owner, conversationID, role, content, checkDuplicateWindow)
}

// GenerateTitle derives a title from firstMessage and stores it. Model
// failures fall back to a deterministic title and are not returned.
func (s *Service) GenerateTitle(ctx context.Context, owner, conversationID, firstMessage string) (string, error) {
	if owner == "" {
		return "", ErrUnauthorized
	}
	if conversationID == "" || strings.TrimSpace(firstMessage) == "" {
		return "", fmt.Errorf("%w: conversationId and firstMessage required", ErrInvalidRequest)
	}
	conv, err := s.repo.GetConversation(ctx, owner, conversationID)
	if err != nil {
		return "", err
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.TitleTimeout)
	defer cancel()

	title := fallbackTitle(firstMessage, nil)
	p, err := s.providerFor(tctx, conv)
	if err == nil {
		title, err = deriveTitle(tctx, p, firstMessage, nil)
	}
	if err != nil {
		s.log.Warn("title derivation failed, using fallback", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if err := s.repo.UpdateTitle(ctx, owner, conversationID, title); err != nil {
		return "", err
	}
	return title, nil
}

// GetMessage returns a message only if it belongs to the given conversation.
func (s *Service) GetMessage(ctx context.Context, owner, conversationID, messageID string) (*Message, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	m, err := s.repo.GetMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conversationID {
		return nil, ErrNotFound
	}
	return m, nil
}

package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// EditMessage overwrites a message's content and marks it edited. With
// triggerReAsk it then re-asks from that message under the same lock hold.
// The returned TurnResult is nil unless a re-ask ran.
func (s *Service) EditMessage(ctx context.Context, owner, messageID, content string, triggerReAsk bool, sink Sink) (*Message, *TurnResult, error) {
	if owner == "" {
		return nil, nil, ErrUnauthorized
	}
	m, err := s.repo.GetMessage(ctx, owner, messageID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(content) == "" && len(m.Attachments) == 0 {
		return nil, nil, fmt.Errorf("%w: content required", ErrInvalidRequest)
	}
	if triggerReAsk && m.Role != RoleUser {
		return nil, nil, fmt.Errorf("%w: only user messages can be re-asked", ErrInvalidOperation)
	}
	conv, err := s.repo.GetConversation(ctx, owner, m.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.opts.Locker.Lock(ctx, conv.ConversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	// a truncation may have removed it while we waited
	if m, err = s.repo.GetMessage(ctx, owner, messageID); err != nil {
		return nil, nil, err
	}
	if err := s.repo.UpdateContent(ctx, m, content); err != nil {
		return nil, nil, fmt.Errorf("update message: %w", err)
	}
	if err := s.repo.TouchConversation(ctx, conv.ConversationID); err != nil {
		s.log.Warn("touch conversation failed", zap.String("conversation_id", conv.ConversationID), zap.Error(err))
	}
	if !triggerReAsk {
		return m, nil, nil
	}

	res, err := s.reAskLocked(ctx, owner, conv, m, sink)
	return m, res, err
}

// ReAsk deletes everything after a user message and generates a fresh reply to it.
func (s *Service) ReAsk(ctx context.Context, owner, messageID string, sink Sink) (*TurnResult, error) {
	if owner == "" {
		return nil, ErrUnauthorized
	}
	m, err := s.repo.GetMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}
	if m.Role != RoleUser {
		return nil, fmt.Errorf("%w: only user messages can be re-asked", ErrInvalidOperation)
	}
	conv, err := s.repo.GetConversation(ctx, owner, m.ConversationID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.opts.Locker.Lock(ctx, conv.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	if m, err = s.repo.GetMessage(ctx, owner, messageID); err != nil {
		return nil, err
	}
	return s.reAskLocked(ctx, owner, conv, m, sink)
}

func (s *Service) reAskLocked(ctx context.Context, owner string, conv *Conversation, ref *Message, sink Sink) (*TurnResult, error) {
	s.states.set(conv.ConversationID, StateTruncating)
	deleted, err := s.repo.DeleteAfter(ctx, ref)
	if err != nil {
		s.states.set(conv.ConversationID, StateError)
		return nil, fmt.Errorf("truncate after %s: %w", ref.MessageID, err)
	}
	s.cleanupAttachments(deleted)

	return s.runTurn(ctx, owner, conv, false, TurnRequest{
		ConversationID: conv.ConversationID,
		Query:          ref.Content,
		Attachments:    ref.Attachments,
		SkipUserSave:   true,
	}, sink)
}

// TruncateAfter deletes every message strictly after afterMessageID and
// returns how many were removed. Retrying it deletes nothing more.
func (s *Service) TruncateAfter(ctx context.Context, owner, conversationID, afterMessageID string) (int, error) {
	if owner == "" {
		return 0, ErrUnauthorized
	}
	if afterMessageID == "" {
		return 0, fmt.Errorf("%w: afterMessageId required", ErrInvalidRequest)
	}
	conv, err := s.repo.GetConversation(ctx, owner, conversationID)
	if err != nil {
		return 0, err
	}
	ref, err := s.repo.GetMessage(ctx, owner, afterMessageID)
	if err != nil {
		return 0, err
	}
	if ref.ConversationID != conv.ConversationID {
		return 0, ErrNotFound
	}

	unlock, err := s.opts.Locker.Lock(ctx, conv.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	s.states.set(conv.ConversationID, StateTruncating)
	deleted, err := s.repo.DeleteAfter(ctx, ref)
	if err != nil {
		s.states.set(conv.ConversationID, StateError)
		return 0, fmt.Errorf("truncate after %s: %w", afterMessageID, err)
	}
	s.states.set(conv.ConversationID, StateIdle)

	s.cleanupAttachments(deleted)
	if len(deleted) > 0 {
		if err := s.repo.TouchConversation(ctx, conv.ConversationID); err != nil {
			s.log.Warn("touch conversation failed", zap.String("conversation_id", conv.ConversationID), zap.Error(err))
		}
	}
	return len(deleted), nil
}

// DeleteMessage removes a single message from a conversation.
func (s *Service) DeleteMessage(ctx context.Context, owner, conversationID, messageID string) error {
	if owner == "" {
		return ErrUnauthorized
	}
	conv, err := s.repo.GetConversation(ctx, owner, conversationID)
	if err != nil {
		return err
	}

	unlock, err := s.opts.Locker.Lock(ctx, conv.ConversationID)
	if err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	m, err := s.repo.GetMessage(ctx, owner, messageID)
	if err != nil {
		return err
	}
	if m.ConversationID != conv.ConversationID {
		return ErrNotFound
	}
	if _, err := s.repo.DeleteMessage(ctx, owner, messageID); err != nil {
		return err
	}
	s.cleanupAttachments([]Message{*m})
	return nil
}

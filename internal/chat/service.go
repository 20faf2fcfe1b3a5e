package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
	"github.com/suPer8Hu/galaxy-chat/internal/convlock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink receives a streamed reply. Begin is called once, right before the
// first chunk, so callers can still report errors that happen earlier.
type Sink interface {
	Begin(conversationID string) error
	Write(chunk string) error
}

// Locker serializes operations on one conversation.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Memory is the long-term memory layer. Failures never fail a turn.
type Memory interface {
	Ingest(ctx context.Context, owner, role, text string) error
	Retrieve(ctx context.Context, owner, query string) (string, error)
}

// BlobDeleter removes stored attachment blobs by their storage reference.
type BlobDeleter interface {
	Delete(ctx context.Context, ref string) error
}

type Options struct {
	// ContextWindowSize caps the history sent to the model; 0 sends all of it.
	ContextWindowSize int
	DedupWindow       time.Duration
	ModelTimeout      time.Duration
	TitleTimeout      time.Duration
	AssistantName     string
	// Temperature samples the main reply; titles use their own.
	Temperature float64

	DefaultProvider string
	DefaultModel    string

	Locker Locker
	Memory Memory
	Blobs  BlobDeleter
	Logger *zap.Logger
}

const (
	checkDuplicateWindow = 10 * time.Second
	backgroundTimeout    = 30 * time.Second
)

type Service struct {
	repo     *Repo
	registry *ai.Registry
	opts     Options
	log      *zap.Logger
	states   *stateTable
	bg       sync.WaitGroup
}

func NewService(repo *Repo, registry *ai.Registry, opts Options) *Service {
	if opts.ContextWindowSize < 0 {
		opts.ContextWindowSize = 0
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Second
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 60 * time.Second
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = 20 * time.Second
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "GopherChat"
	}
	if opts.Locker == nil {
		opts.Locker = convlock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		registry: registry,
		opts:     opts,
		log:      opts.Logger.Named("chat"),
		states:   newStateTable(),
	}
}

// Wait blocks until background work (memory ingestion, titles, blob cleanup) is done.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) background(timeout time.Duration, fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

// TurnState reports the in-flight state of a conversation.
func (s *Service) TurnState(conversationID string) TurnState {
	return s.states.get(conversationID)
}

type TurnRequest struct {
	ConversationID string
	Query          string
	Attachments    []Attachment
	SkipUserSave   bool
	IdempotencyKey string

	// receivedAt anchors the dedup window; set before waiting on the lock.
	receivedAt time.Time
}

type TurnResult struct {
	ConversationID string
	IsNew          bool
	// UserMessage is the persisted (or deduplicated) user turn; nil when skipped.
	UserMessage *Message
	Duplicate   bool
	// AssistantMessage is nil when the model produced only whitespace.
	AssistantMessage *Message
	Reply            string
}

func validateTurn(owner string, req TurnRequest) error {
	if owner == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(req.Query) == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: query or attachments required", ErrInvalidRequest)
	}
	for _, a := range req.Attachments {
		if a.Type != AttachmentImage && a.Type != AttachmentFile {
			return fmt.Errorf("%w: unknown attachment type %q", ErrInvalidRequest, a.Type)
		}
		if a.URL == "" {
			return fmt.Errorf("%w: attachment url required", ErrInvalidRequest)
		}
	}
	return nil
}

// HandleTurn runs one user turn end to end and streams the reply into sink
// (which may be nil).
//
// Once the conversation is resolved the result is returned with any error,
// carrying at least ConversationID. On ErrStreamInterrupted the partial reply
// that was forwarded has been persisted.
func (s *Service) HandleTurn(ctx context.Context, owner string, req TurnRequest, sink Sink) (*TurnResult, error) {
	if err := validateTurn(owner, req); err != nil {
		return nil, err
	}
	req.receivedAt = s.repo.timestamp()

	conv, isNew, err := s.resolveConversation(ctx, owner, req.ConversationID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.opts.Locker.Lock(ctx, conv.ConversationID)
	if err != nil {
		return &TurnResult{ConversationID: conv.ConversationID, IsNew: isNew}, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	return s.runTurn(ctx, owner, conv, isNew, req, sink)
}

func (s *Service) resolveConversation(ctx context.Context, owner, conversationID string) (*Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.repo.GetConversation(ctx, owner, conversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	conv := &Conversation{
		UserID:   owner,
		Title:    PlaceholderTitle,
		Provider: s.opts.DefaultProvider,
		Model:    s.opts.DefaultModel,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

// runTurn expects the conversation lock to be held.
func (s *Service) runTurn(ctx context.Context, owner string, conv *Conversation, isNew bool, req TurnRequest, sink Sink) (*TurnResult, error) {
	id := conv.ConversationID
	res := &TurnResult{ConversationID: id, IsNew: isNew}
	log := s.log.With(zap.String("conversation_id", id))

	ok := false
	defer func() {
		if ok {
			s.states.set(id, StateIdle)
		} else {
			s.states.set(id, StateError)
		}
	}()

	if !req.SkipUserSave {
		s.states.set(id, StatePersistingUser)
		if err := s.persistUserTurn(ctx, owner, id, req, res); err != nil {
			return res, err
		}
	}

	s.states.set(id, StateEnriching)
	if !req.SkipUserSave && !res.Duplicate {
		s.ingest(owner, RoleUser, req.Query)
	}

	var (
		history []Message
		memCtx  string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.repo.ListHistory(gctx, owner, id, s.opts.ContextWindowSize)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = h
		return nil
	})
	g.Go(func() error {
		memCtx = s.retrieve(gctx, owner, req.Query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	provider, err := s.providerFor(ctx, conv)
	if err != nil {
		return res, err
	}
	prompt := assemblePrompt(systemPrompt(s.opts.AssistantName, time.Now(), memCtx), history, req.Query, req.Attachments)

	// the client going away must not cancel generation
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ModelTimeout)
	defer cancel()

	stream, err := provider.StreamChat(mctx, prompt, ai.Options{Temperature: s.opts.Temperature})
	if err != nil {
		log.Warn("model rejected request", zap.Error(err))
		return res, classifyModelErr(err)
	}
	defer stream.Close()

	s.states.set(id, StateStreaming)
	reply, streamErr := s.pump(stream, sink, id, log)
	if streamErr != nil && reply == "" {
		log.Warn("model stream failed before any output", zap.Error(streamErr))
		return res, classifyModelErr(streamErr)
	}

	s.states.set(id, StatePersistingAssistant)
	res.Reply = reply
	pctx := context.WithoutCancel(ctx)
	if strings.TrimSpace(reply) != "" {
		am := &Message{ConversationID: id, UserID: owner, Role: RoleAssistant, Content: reply}
		if err := s.repo.InsertMessage(pctx, am); err != nil {
			return res, fmt.Errorf("persist assistant reply: %w", err)
		}
		res.AssistantMessage = am
		if err := s.repo.TouchConversation(pctx, id); err != nil {
			log.Warn("touch conversation failed", zap.Error(err))
		}
		s.ingest(owner, RoleAssistant, reply)
		if isNew {
			s.deriveTitleAsync(conv, req.Query, req.Attachments)
		}
	}

	if streamErr != nil {
		log.Warn("model stream interrupted", zap.Int("buffered", len(reply)), zap.Error(streamErr))
		return res, fmt.Errorf("%w: %w", ErrStreamInterrupted, streamErr)
	}
	ok = true
	return res, nil
}

func (s *Service) persistUserTurn(ctx context.Context, owner, conversationID string, req TurnRequest, res *TurnResult) error {
	m := &Message{
		ConversationID: conversationID,
		UserID:         owner,
		Role:           RoleUser,
		Content:        req.Query,
		Attachments:    slices.Clone(req.Attachments),
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		m.IdempotencyKey = &key
		saved, inserted, err := s.repo.InsertUserMessageOrGetExisting(ctx, m)
		if err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
		res.UserMessage, res.Duplicate = saved, !inserted
		return nil
	}

	received := req.receivedAt
	if received.IsZero() {
		received = s.repo.timestamp()
	}
	dup, err := s.repo.FindRecentDuplicate(ctx, owner, conversationID, RoleUser, req.Query, req.Attachments, received.Add(-s.opts.DedupWindow))
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if dup != nil {
		s.log.Debug("duplicate user message suppressed", zap.String("message_id", dup.MessageID))
		res.UserMessage, res.Duplicate = dup, true
		return nil
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	res.UserMessage = m
	return nil
}

// pump appends every chunk to the buffer before forwarding it, so what the
// client saw is always a prefix of what gets persisted. A failing sink is
// detached and generation continues.
func (s *Service) pump(stream *ai.Stream, sink Sink, conversationID string, log *zap.Logger) (string, error) {
	var buf strings.Builder
	attached, started := sink != nil, false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), err
		}
		if chunk == "" {
			continue
		}
		buf.WriteString(chunk)

		if !attached {
			continue
		}
		if !started {
			started = true
			if err := sink.Begin(conversationID); err != nil {
				log.Info("client went away, continuing without it", zap.Error(err))
				attached = false
				continue
			}
		}
		if err := sink.Write(chunk); err != nil {
			log.Info("client went away, continuing without it", zap.Error(err))
			attached = false
		}
	}
}

func (s *Service) providerFor(ctx context.Context, conv *Conversation) (ai.Provider, error) {
	if conv.Provider == "" {
		return s.registry.Default(ctx)
	}
	return s.registry.Get(ctx, conv.Provider, conv.Model)
}

func (s *Service) retrieve(ctx context.Context, owner, query string) string {
	if s.opts.Memory == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	out, err := s.opts.Memory.Retrieve(ctx, owner, query)
	if err != nil {
		s.log.Warn("memory retrieval failed", zap.String("owner", owner), zap.Error(err))
		return ""
	}
	return out
}

func (s *Service) ingest(owner, role, text string) {
	if s.opts.Memory == nil || strings.TrimSpace(text) == "" {
		return
	}
	s.background(backgroundTimeout, func(ctx context.Context) {
		if err := s.opts.Memory.Ingest(ctx, owner, role, text); err != nil {
			s.log.Warn("memory ingestion failed", zap.String("owner", owner), zap.String("role", role), zap.Error(err))
		}
	})
}

func (s *Service) deriveTitleAsync(conv *Conversation, firstMessage string, atts []Attachment) {
	s.background(s.opts.TitleTimeout, func(ctx context.Context) {
		title := fallbackTitle(firstMessage, atts)
		p, err := s.providerFor(ctx, conv)
		if err == nil {
			title, err = deriveTitle(ctx, p, firstMessage, atts)
		}
		if err != nil {
			s.log.Warn("title derivation failed, using fallback",
				zap.String("conversation_id", conv.ConversationID), zap.Error(err))
		}
		if _, err := s.repo.ReplacePlaceholderTitle(ctx, conv.ConversationID, title); err != nil {
			s.log.Warn("save title failed", zap.String("conversation_id", conv.ConversationID), zap.Error(err))
		}
	})
}

func (s *Service) cleanupAttachments(msgs []Message) {
	if s.opts.Blobs == nil {
		return
	}
	var refs []string
	for _, m := range msgs {
		for _, a := range m.Attachments {
			if a.PublicID != "" {
				refs = append(refs, a.PublicID)
			}
		}
	}
	if len(refs) == 0 {
		return
	}
	s.background(time.Minute, func(ctx context.Context) {
		for _, ref := range refs {
			if err := s.opts.Blobs.Delete(ctx, ref); err != nil {
				s.log.Warn("attachment cleanup failed", zap.String("ref", ref), zap.Error(err))
			}
		}
	})
}

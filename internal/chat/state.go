package chat

import "sync"

// TurnState is where a conversation is in its current operation.
type TurnState string

const (
	StateIdle                TurnState = "IDLE"
	StatePersistingUser      TurnState = "PERSISTING_USER"
	StateEnriching           TurnState = "ENRICHING"
	StateStreaming           TurnState = "STREAMING"
	StatePersistingAssistant TurnState = "PERSISTING_ASSISTANT"
	StateError               TurnState = "ERROR"
	StateTruncating          TurnState = "TRUNCATING"
)

// stateTable holds non-idle states only. ERROR stays visible until the next
// operation on the conversation starts.
type stateTable struct {
	mu sync.Mutex
	m  map[string]TurnState
}

func newStateTable() *stateTable {
	return &stateTable{m: make(map[string]TurnState)}
}

func (t *stateTable) set(conversationID string, s TurnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == StateIdle {
		delete(t.m, conversationID)
		return
	}
	t.m[conversationID] = s
}

func (t *stateTable) get(conversationID string) TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.m[conversationID]; ok {
		return s
	}
	return StateIdle
}

package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
)

const (
	DefaultMaxHistory = 10

	freeTextWindow   = 6
	structuredWindow = 8
	summaryWindow    = 6
)

// Turn is one recorded utterance. User turns carry Text; assistant turns carry
// the SQL they produced and whether the cycle succeeded.
type Turn struct {
	Role      nl2sql.Role `json:"role"`
	Text      string      `json:"text,omitempty"`
	SQL       string      `json:"sql,omitempty"`
	Succeeded *bool       `json:"succeeded,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (t Turn) succeeded() bool {
	return t.Succeeded != nil && *t.Succeeded
}

type Summary struct {
	SessionID                string    `json:"session_id"`
	SessionStart             time.Time `json:"session_start"`
	TotalUserTurns           int       `json:"total_user_turns"`
	SuccessfulAssistantTurns int       `json:"successful_assistant_turns"`
	RecentUserTexts          []string  `json:"recent_user_texts"`
}

type Options struct {
	MaxHistory int
	Dialect    string
	Clock      func() time.Time
}

// Store is the bounded turn history of one session. It holds at most
// 2*MaxHistory turns; the oldest turns are dropped first.
type Store struct {
	mu         sync.Mutex
	maxHistory int
	dialect    string
	clock      func() time.Time
	sessionID  string
	startedAt  time.Time
	turns      []Turn
}

func NewStore(opts Options) *Store {
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Store{
		maxHistory: maxHistory,
		dialect:    opts.Dialect,
		clock:      clock,
	}
	s.resetLocked()
	return s
}

func (s *Store) MaxHistory() int {
	return s.maxHistory
}

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Store) RecordUserTurn(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{
		Role:      nl2sql.RoleUser,
		Text:      text,
		Timestamp: s.clock(),
	})
	s.pruneLocked()
}

func (s *Store) RecordAssistantTurn(sql string, succeeded bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := succeeded
	s.turns = append(s.turns, Turn{
		Role:      nl2sql.RoleAssistant,
		SQL:       sql,
		Succeeded: &ok,
		Error:     errMsg,
		Timestamp: s.clock(),
	})
	s.pruneLocked()
}

func (s *Store) pruneLocked() {
	limit := 2 * s.maxHistory
	if len(s.turns) <= limit {
		return
	}
	kept := make([]Turn, limit)
	copy(kept, s.turns[len(s.turns)-limit:])
	s.turns = kept
}

// Len is the number of turns currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Turns returns a copy of the history, oldest first.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyTurnsLocked()
}

func (s *Store) copyTurnsLocked() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) recentLocked(n int) []Turn {
	if len(s.turns) <= n {
		return s.turns
	}
	return s.turns[len(s.turns)-n:]
}

// BuildFreeTextPrompt renders instructions, schema, the last three turn pairs
// as a transcript, and the new request as a single blob.
func (s *Store) BuildFreeTextPrompt(schemaDescription, currentQuery string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString(nl2sql.SystemInstructions(s.dialect))
	b.WriteString("\n")
	b.WriteString(nl2sql.SchemaSection(schemaDescription))
	b.WriteString("\n")

	recent := s.recentLocked(freeTextWindow)
	if len(recent) > 0 {
		b.WriteString("\nConversation history:")
		for _, turn := range recent {
			switch turn.Role {
			case nl2sql.RoleUser:
				fmt.Fprintf(&b, "\nUser: %s", turn.Text)
			case nl2sql.RoleAssistant:
				if turn.succeeded() && turn.SQL != "" {
					fmt.Fprintf(&b, "\nAssistant SQL: %s", turn.SQL)
				}
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nCurrent request: %s\n\nSQL:", currentQuery)
	return b.String()
}

// BuildStructuredPrompt emits a system message, the last four turn pairs and
// the new request. Assistant turns appear only when they succeeded with SQL.
func (s *Store) BuildStructuredPrompt(schemaDescription, currentQuery string) []nl2sql.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := []nl2sql.Message{{
		Role:    nl2sql.RoleSystem,
		Content: nl2sql.SystemInstructions(s.dialect) + "\n" + nl2sql.SchemaSection(schemaDescription),
	}}
	for _, turn := range s.recentLocked(structuredWindow) {
		switch turn.Role {
		case nl2sql.RoleUser:
			messages = append(messages, nl2sql.Message{Role: nl2sql.RoleUser, Content: turn.Text})
		case nl2sql.RoleAssistant:
			if turn.succeeded() && turn.SQL != "" {
				messages = append(messages, nl2sql.Message{Role: nl2sql.RoleAssistant, Content: turn.SQL})
			}
		}
	}
	return append(messages, nl2sql.Message{Role: nl2sql.RoleUser, Content: currentQuery})
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Store) summaryLocked() Summary {
	summary := Summary{
		SessionID:       s.sessionID,
		SessionStart:    s.startedAt,
		RecentUserTexts: []string{},
	}
	for _, turn := range s.turns {
		switch turn.Role {
		case nl2sql.RoleUser:
			summary.TotalUserTurns++
		case nl2sql.RoleAssistant:
			if turn.succeeded() {
				summary.SuccessfulAssistantTurns++
			}
		}
	}
	for _, turn := range s.recentLocked(summaryWindow) {
		if turn.Role == nl2sql.RoleUser {
			summary.RecentUserTexts = append(summary.RecentUserTexts, turn.Text)
		}
	}
	return summary
}

// Reset drops all turns and starts a new session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.turns = nil
	s.sessionID = uuid.NewString()
	s.startedAt = s.clock()
}

type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	ExportTime   time.Time `json:"export_time"`
	TotalEntries int       `json:"total_entries"`
}

// Snapshot is the exported form of a session.
type Snapshot struct {
	SessionInfo  SessionInfo `json:"session_info"`
	Conversation []Turn      `json:"conversation"`
	Summary      Summary     `json:"summary"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionInfo: SessionInfo{
			SessionID:    s.sessionID,
			StartTime:    s.startedAt,
			ExportTime:   s.clock(),
			TotalEntries: len(s.turns),
		},
		Conversation: s.copyTurnsLocked(),
		Summary:      s.summaryLocked(),
	}
}

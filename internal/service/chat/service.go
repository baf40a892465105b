package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/chat"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrNoMessages    = errors.New("no messages to replay")
)

// Asker answers a question in the context of a filter payload.
type Asker interface {
	Ask(ctx context.Context, question string, payload filter.Payload) (chat.Response, error)
}

// Speaker reads text aloud without blocking.
type Speaker interface {
	Speak(text string)
}

// Service holds one session's conversation. The transcript is append-only
// and never persisted.
type Service struct {
	asker   Asker
	speaker Speaker
	filters func() filter.State
	sink    notify.Sink
	logger  zerolog.Logger

	mu       sync.RWMutex
	messages []chat.Message
	draft    string
	watchers []func(chat.Message)
}

// NewService wires the chat panel. filters supplies the selection each
// question is asked against.
func NewService(asker Asker, speaker Speaker, filters func() filter.State, sink notify.Sink, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = notify.Discard
	}
	if filters == nil {
		filters = func() filter.State { return filter.State{} }
	}
	return &Service{
		asker:    asker,
		speaker:  speaker,
		filters:  filters,
		sink:     sink,
		logger:   logger.With().Str("component", "chat").Logger(),
		messages: make([]chat.Message, 0, 16),
	}
}

// Watch registers fn for every appended message.
func (s *Service) Watch(fn func(chat.Message)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Send asks question and appends both turns. The reply is spoken in the
// background. On failure the user turn stays and a notice is raised.
func (s *Service) Send(ctx context.Context, question string) (chat.Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return chat.Message{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()
	s.append(chat.UserMessage(question))

	resp, err := s.asker.Ask(ctx, question, filter.ToPayload(s.filters()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("chat request failed")
		s.sink.Notify(notify.New(notify.LevelError, "Chat failed", err.Error()))
		return chat.Message{}, err
	}

	reply := chat.AssistantMessage(resp.Narrative)
	s.append(reply)
	if s.speaker != nil {
		s.speaker.Speak(reply.Content)
	}
	return reply, nil
}

// ReplayLast speaks the most recent message again.
func (s *Service) ReplayLast() error {
	s.mu.RLock()
	n := len(s.messages)
	var last chat.Message
	if n > 0 {
		last = s.messages[n-1]
	}
	s.mu.RUnlock()

	if n == 0 {
		return ErrNoMessages
	}
	if s.speaker != nil {
		s.speaker.Speak(last.Content)
	}
	return nil
}

// SetDraft fills the chat input field, e.g. with a voice transcript.
func (s *Service) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Draft returns the pending input text.
func (s *Service) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

// Transcript returns a copy of the conversation.
func (s *Service) Transcript() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

func (s *Service) append(m chat.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(m)
	}
}

// Package session composes one browser's dashboard: filter store,
// hydration, chat, voice capture and speech, joined by an event broker.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/chat"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/model/persona"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
	chatsvc "github.com/zhouzirui/rabbitt-console/internal/service/chat"
	"github.com/zhouzirui/rabbitt-console/internal/service/dashboard"
	"github.com/zhouzirui/rabbitt-console/internal/service/hydration"
	speechsvc "github.com/zhouzirui/rabbitt-console/internal/service/speech"
	"github.com/zhouzirui/rabbitt-console/internal/service/voice"
	"github.com/zhouzirui/rabbitt-console/internal/storage"
)

// Backend is everything a session needs from the analytics service.
type Backend interface {
	hydration.Fetcher
	dashboard.OptionsSource
	chatsvc.Asker
	speechsvc.Synthesizer
	voice.Transcriber
}

// Deps are shared by every session.
type Deps struct {
	Backend      Backend
	Storage      storage.Backend
	Personas     persona.Store
	Logger       zerolog.Logger
	Clock        func() time.Time
	VoiceEnabled bool
}

// Session is one browser's live dashboard.
type Session struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`

	Broker    *Broker                 `json:"-"`
	Dashboard *dashboard.Store        `json:"-"`
	Hydration *hydration.Orchestrator `json:"-"`
	Chat      *chatsvc.Service        `json:"-"`
	Voice     *voice.Controller       `json:"-"`
	Speech    *speechsvc.Controller   `json:"-"`

	logger zerolog.Logger
	ports  *clientPorts
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a session for clientID. Nothing is fetched until Bootstrap.
func New(deps Deps, clientID string) *Session {
	id := uuid.NewString()
	logger := deps.Logger.With().Str("session", id).Str("client", clientID).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:        id,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
		Broker:    NewBroker(logger),
		logger:    logger,
		ports:     &clientPorts{},
		ctx:       ctx,
		cancel:    cancel,
	}
	sink := notify.Tee(s.Broker, notify.NewLogSink(logger))

	s.Hydration = hydration.New(deps.Backend, sink, logger)
	s.Hydration.Watch(func(snap hydration.Snapshot) {
		s.Broker.Publish(EventHydration, snap)
	})

	var port storage.Port
	if deps.Storage != nil {
		port = storage.NewScoped(deps.Storage, clientID)
	}
	opts := []dashboard.Option{dashboard.WithSink(sink)}
	if deps.Clock != nil {
		opts = append(opts, dashboard.WithClock(deps.Clock))
	}
	s.Dashboard = dashboard.New(deps.Backend, dashboard.HydratorFunc(s.hydrateAsync), port, deps.Personas, logger, opts...)

	var (
		synth    speechsvc.Synthesizer
		device   voice.Device
		player   speechsvc.Player
		fallback speechsvc.Fallback
	)
	if deps.VoiceEnabled {
		synth, device, player, fallback = deps.Backend, s.ports, s.ports, s.ports
	}
	s.Speech = speechsvc.NewController(synth, player, fallback, logger)
	s.Speech.OnDone(func(p speechsvc.Path) {
		s.Broker.Publish(EventSpeech, map[string]string{"path": string(p)})
	})

	s.Chat = chatsvc.NewService(deps.Backend, speakerFunc(s.speak), s.Dashboard.Filters, sink, logger)
	s.Chat.Watch(func(m chat.Message) {
		s.Broker.Publish(EventChat, m)
	})

	s.Voice = voice.NewController(device, deps.Backend, sink, s.fillInput, logger)
	s.Voice.Watch(func(st voice.State) {
		s.Broker.Publish(EventVoiceState, map[string]string{"state": string(st)})
	})

	return s
}

// Bootstrap loads options and persisted state and starts the first
// hydration.
func (s *Session) Bootstrap(ctx context.Context) (dashboard.View, error) {
	return s.Dashboard.Bootstrap(ctx)
}

// AttachClient binds a browser to the voice bridge. The returned func
// detaches it and drops any recording it still holds.
func (s *Session) AttachClient(c Client) func() {
	s.ports.attach(c)
	s.logger.Info().Msg("voice client attached")
	return func() {
		if s.ports.detach(c) {
			s.Voice.Abort()
			s.logger.Info().Msg("voice client detached")
		}
	}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Wait blocks until background hydrations and speech have finished.
func (s *Session) Wait() {
	s.wg.Wait()
	s.Speech.Wait()
}

// Close stops background work and ends every subscription.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.Voice.Close()
		s.Wait()
		s.Broker.Close()
		s.logger.Info().Msg("session closed")
	})
}

func (s *Session) hydrateAsync(_ context.Context, filters filter.State) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	// Reserved here, under the store lock, so generations follow commit order.
	gen := s.Hydration.Begin(filters)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Hydration.Run(s.ctx, gen, filters); err != nil && !errors.Is(err, hydration.ErrSuperseded) {
			s.logger.Warn().Err(err).Msg("hydration failed")
		}
	}()
	return nil
}

func (s *Session) speak(text string) {
	if s.ports.current() == nil {
		s.logger.Debug().Msg("no voice client attached, skipping speech")
		return
	}
	s.Speech.Speak(text)
}

func (s *Session) fillInput(text string) {
	s.Chat.SetDraft(text)
	s.Broker.Publish(EventInput, map[string]string{"text": text})
}

type speakerFunc func(string)

func (f speakerFunc) Speak(text string) { f(text) }

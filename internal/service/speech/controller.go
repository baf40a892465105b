package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/metrics"
	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
)

const defaultSpeakTimeout = 60 * time.Second

// Synthesizer is the remote voice service.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (speech.SpeakResponse, error)
}

// Player plays decoded audio on the client.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// Fallback is the client's built-in speech synthesizer.
type Fallback interface {
	Available() bool
	Utter(ctx context.Context, text string) error
}

// Path names which branch handled a Speak call.
type Path string

const (
	PathRemote   Path = "remote"
	PathFallback Path = "fallback"
	PathNone     Path = "none"
	PathError    Path = "error"
)

// Controller speaks assistant responses on a best-effort basis. Callers
// never block on or observe the outcome.
type Controller struct {
	synth    Synthesizer
	player   Player
	fallback Fallback
	logger   zerolog.Logger
	timeout  time.Duration

	wg   sync.WaitGroup
	mu   sync.Mutex
	done []func(Path)
}

// NewController wires a controller. Any port may be nil.
func NewController(synth Synthesizer, player Player, fallback Fallback, logger zerolog.Logger) *Controller {
	return &Controller{
		synth:    synth,
		player:   player,
		fallback: fallback,
		logger:   logger.With().Str("component", "speech").Logger(),
		timeout:  defaultSpeakTimeout,
	}
}

// OnDone registers fn to receive the path taken by each utterance.
func (c *Controller) OnDone(fn func(Path)) {
	c.mu.Lock()
	c.done = append(c.done, fn)
	c.mu.Unlock()
}

// Speak starts speaking text in the background and returns immediately.
// Blank text is ignored.
func (c *Controller) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		path := c.run(ctx, text)
		metrics.SpeechPlayback.WithLabelValues(string(path)).Inc()

		c.mu.Lock()
		done := slices.Clone(c.done)
		c.mu.Unlock()
		for _, fn := range done {
			fn(path)
		}
	}()
}

// Wait blocks until every started utterance has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, text string) (path Path) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn().Interface("panic", r).Msg("voice synthesis panicked")
			path = PathError
		}
	}()

	played, err := c.playRemote(ctx, text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("voice synthesis failed")
	}
	if played {
		return PathRemote
	}

	if c.fallback == nil || !c.fallback.Available() {
		if err != nil {
			return PathError
		}
		return PathNone
	}
	if err := c.fallback.Utter(ctx, text); err != nil {
		c.logger.Warn().Err(err).Msg("fallback synthesis failed")
		return PathError
	}
	return PathFallback
}

// playRemote reports whether remote audio was played.
func (c *Controller) playRemote(ctx context.Context, text string) (bool, error) {
	if c.synth == nil || c.player == nil {
		return false, nil
	}

	resp, err := c.synth.Speak(ctx, text)
	if err != nil {
		return false, err
	}
	if !resp.Available || resp.AudioBase64 == "" {
		c.logger.Debug().Str("message", resp.Message).Msg("remote voice unavailable")
		return false, nil
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return false, fmt.Errorf("decode audio: %w", err)
	}
	if err := c.player.Play(ctx, audio, speech.FormatMP3); err != nil {
		return false, fmt.Errorf("play audio: %w", err)
	}
	return true, nil
}

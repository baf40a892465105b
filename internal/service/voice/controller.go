// Package voice implements the microphone capture state machine: permission,
// recording, stop, transcription, and device release on every exit path.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/metrics"
	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

// State is a capture session phase.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateRecording            State = "recording"
	StateStopping             State = "stopping"
	StateTranscribing         State = "transcribing"
	StateFailed               State = "failed"
)

var (
	// ErrUnsupported means the client cannot capture audio.
	ErrUnsupported = errors.New("audio capture not supported")
	// ErrBusy means a permission request or transcription is in progress.
	ErrBusy = errors.New("voice capture busy")
	// ErrAborted means the capture was dropped while permission was pending.
	ErrAborted = errors.New("voice capture aborted")
	// ErrClosed means the controller no longer accepts captures.
	ErrClosed = errors.New("voice controller closed")
)

// Device acquires the microphone. Acquire blocks on the permission prompt
// and fails if the user denies it.
type Device interface {
	Supported() bool
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is one held device handle.
type Capture interface {
	// Stop ends recording and returns the buffered chunks in order.
	Stop(ctx context.Context) ([][]byte, error)
	// Release frees the device. Called exactly once per capture.
	Release()
}

// Transcriber turns a recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte, filename string) (speech.TranscribeResponse, error)
}

// Controller owns at most one capture at a time.
type Controller struct {
	device      Device
	transcriber Transcriber
	sink        notify.Sink
	input       func(text string)
	logger      zerolog.Logger

	mu       sync.Mutex
	state    State
	attempt  uint64
	closed   bool
	capture  Capture
	release  func()
	watchers []func(State)
}

// NewController wires a controller. input receives successful transcripts;
// a nil sink discards notices.
func NewController(device Device, transcriber Transcriber, sink notify.Sink, input func(string), logger zerolog.Logger) *Controller {
	if sink == nil {
		sink = notify.Discard
	}
	if input == nil {
		input = func(string) {}
	}
	return &Controller{
		device:      device,
		transcriber: transcriber,
		sink:        sink,
		input:       input,
		logger:      logger.With().Str("component", "voice").Logger(),
		state:       StateIdle,
	}
}

// Watch registers fn for every state change. fn runs with the controller
// locked and must not call back into it.
func (c *Controller) Watch(fn func(State)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Toggle is the microphone button: start when idle, stop when recording.
func (c *Controller) Toggle(ctx context.Context) error {
	return c.Start(ctx)
}

// Start requests the device and begins recording. While recording it
// stops instead, so a second start never opens a second capture.
func (c *Controller) Start(ctx context.Context) error {
	if c.device == nil || !c.device.Supported() {
		metrics.VoiceSessions.WithLabelValues("unsupported").Inc()
		c.sink.Notify(notify.New(notify.LevelInfo, "Voice unavailable", "Microphone access is not supported in this browser."))
		return ErrUnsupported
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateRecording:
		c.mu.Unlock()
		return c.Stop(ctx)
	case StateIdle:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.attempt++
	attempt := c.attempt
	c.setStateLocked(StateRequestingPermission)
	c.mu.Unlock()

	capture, err := c.device.Acquire(ctx)

	c.mu.Lock()
	if c.closed || c.attempt != attempt || c.state != StateRequestingPermission {
		c.mu.Unlock()
		if err == nil {
			capture.Release()
		}
		c.logger.Debug().Msg("permission settled after abort, capture dropped")
		return ErrAborted
	}
	if err == nil {
		c.capture = capture
		c.release = sync.OnceFunc(capture.Release)
		c.setStateLocked(StateRecording)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	metrics.VoiceSessions.WithLabelValues("denied").Inc()
	c.setState(StateFailed)
	c.sink.Notify(notify.New(notify.LevelError, "Microphone access denied", err.Error()))
	c.setState(StateIdle)
	return fmt.Errorf("acquire microphone: %w", err)
}

// Stop ends the active recording and transcribes it. It returns once the
// transcription has settled. Stopping outside of recording is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	capture, release := c.capture, c.release
	c.capture, c.release = nil, nil
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.finish(context.WithoutCancel(ctx), capture, release)
	return nil
}

// Abort drops an active recording without transcribing it. A pending
// permission request is abandoned and its capture released once granted.
func (c *Controller) Abort() {
	c.mu.Lock()
	switch c.state {
	case StateRequestingPermission:
		c.attempt++
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		metrics.VoiceSessions.WithLabelValues("aborted").Inc()
		return
	case StateRecording:
	default:
		c.mu.Unlock()
		return
	}
	release := c.release
	c.capture, c.release = nil, nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	release()
	metrics.VoiceSessions.WithLabelValues("aborted").Inc()
}

// Close aborts any capture and refuses later ones.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Abort()
}

func (c *Controller) finish(ctx context.Context, capture Capture, release func()) {
	outcome := "failed"
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("capture pipeline panicked")
			c.sink.Notify(notify.New(notify.LevelError, "Transcription failed", fmt.Sprint(r)))
			outcome = "failed"
		}
		release()
		metrics.VoiceSessions.WithLabelValues(outcome).Inc()
		c.setState(StateIdle)
	}()

	chunks, err := capture.Stop(ctx)
	release()
	if err != nil {
		c.logger.Warn().Err(err).Msg("stop capture failed")
		c.sink.Notify(notify.New(notify.LevelError, "Transcription failed", err.Error()))
		return
	}

	c.setState(StateTranscribing)
	clip := bytes.Join(chunks, nil)
	if len(clip) == 0 {
		outcome = "empty"
		c.sink.Notify(notify.New(notify.LevelWarning, "Transcription unavailable", "No audio was captured."))
		return
	}

	resp, err := c.transcriber.Transcribe(ctx, clip, speech.RecordingFilename)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(clip)).Msg("transcription request failed")
		c.sink.Notify(notify.New(notify.LevelError, "Transcription failed", err.Error()))
		return
	}
	if !resp.Success || resp.Text == "" {
		outcome = "empty"
		c.sink.Notify(notify.New(notify.LevelWarning, "Transcription unavailable", resp.Message))
		return
	}

	outcome = "transcribed"
	c.input(resp.Text)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(s State) {
	old := c.state
	c.state = s
	if old == s {
		return
	}
	c.logger.Debug().Str("old", string(old)).Str("new", string(s)).Msg("voice state changed")
	for _, fn := range c.watchers {
		fn(s)
	}
}

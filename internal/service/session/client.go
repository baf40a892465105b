package session

import (
	"context"
	"errors"
	"sync"

	speechsvc "github.com/zhouzirui/rabbitt-console/internal/service/speech"
	"github.com/zhouzirui/rabbitt-console/internal/service/voice"
)

// ErrNoClient is returned when no browser is attached to the voice bridge.
var ErrNoClient = errors.New("no voice client attached")

// Client is the browser end of the voice bridge: microphone, speaker and
// built-in speech synthesizer.
type Client interface {
	voice.Device
	speechsvc.Player
	speechsvc.Fallback
}

// clientPorts forwards device calls to whichever client is attached.
type clientPorts struct {
	mu     sync.RWMutex
	client Client
}

func (p *clientPorts) current() Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *clientPorts) attach(c Client) {
	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
}

// detach clears c if it is still the attached client.
func (p *clientPorts) detach(c Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != c {
		return false
	}
	p.client = nil
	return true
}

func (p *clientPorts) Supported() bool {
	c := p.current()
	return c != nil && c.Supported()
}

func (p *clientPorts) Acquire(ctx context.Context) (voice.Capture, error) {
	c := p.current()
	if c == nil {
		return nil, ErrNoClient
	}
	return c.Acquire(ctx)
}

func (p *clientPorts) Play(ctx context.Context, audio []byte, format string) error {
	c := p.current()
	if c == nil {
		return ErrNoClient
	}
	return c.Play(ctx, audio, format)
}

func (p *clientPorts) Available() bool {
	c := p.current()
	return c != nil && c.Available()
}

func (p *clientPorts) Utter(ctx context.Context, text string) error {
	c := p.current()
	if c == nil {
		return ErrNoClient
	}
	return c.Utter(ctx, text)
}

package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rabbitt-console/internal/notify"
)

func TestBrokerDeliversInOrder(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	events, cancel := b.Subscribe()
	defer cancel()

	b.Publish(EventInput, "one")
	b.Notify(notify.New(notify.LevelWarning, "Transcription unavailable", ""))

	first := <-events
	assert.Equal(t, EventInput, first.Type)
	assert.Equal(t, "one", first.Data)

	second := <-events
	assert.Equal(t, EventNotice, second.Type)
	assert.Equal(t, "Transcription unavailable", second.Data.(notify.Notice).Title)
}

func TestBrokerDropsForLaggingSubscriber(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	events, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		b.Publish(EventChat, i)
	}
	assert.Len(t, events, defaultSubscriberBuffer)
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	a, cancelA := b.Subscribe()
	c, _ := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())

	b.Close()
	_, ok = <-c
	assert.False(t, ok)

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

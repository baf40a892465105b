package notify

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsNotice(t *testing.T) {
	a := New(LevelError, "Failed to load KPIs", "timeout")
	b := New(LevelError, "Failed to load KPIs", "timeout")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestTeeSkipsNilAndFansOut(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	sink := Tee(first, nil, second)

	sink.Notify(New(LevelWarning, "Transcription unavailable", ""))

	require.Len(t, first.Notices(), 1)
	require.Len(t, second.Notices(), 1)
	assert.Equal(t, "Transcription unavailable", second.Notices()[0].Title)
}

func TestLogSinkMapsLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	sink.Notify(New(LevelError, "Chat failed", "backend down"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "Chat failed", entry["title"])
	assert.Equal(t, "backend down", entry["detail"])
	assert.Equal(t, "notify", entry["component"])
}

func TestDiscardAcceptsNotices(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Notify(New(LevelInfo, "Voice unavailable", "")) })
}

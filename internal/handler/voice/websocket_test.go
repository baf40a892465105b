package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rabbitt-console/internal/model/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/model/chat"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/model/persona"
	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
)

type fakeBackend struct {
	mu   sync.Mutex
	clip []byte
}

func (*fakeBackend) FetchKPIs(context.Context, filter.Payload) (*analytics.KPIBlock, error) {
	return &analytics.KPIBlock{}, nil
}
func (*fakeBackend) FetchSeries(context.Context, filter.Payload) ([]analytics.SeriesPoint, error) {
	return nil, nil
}
func (*fakeBackend) FetchBreakdown(context.Context, filter.Payload, string) ([]analytics.BreakdownRow, error) {
	return nil, nil
}
func (*fakeBackend) FetchRecommendations(context.Context, filter.Payload) ([]string, error) {
	return nil, nil
}
func (*fakeBackend) FetchAnomalies(context.Context, filter.Payload) ([]analytics.Anomaly, error) {
	return nil, nil
}
func (*fakeBackend) FetchFilters(context.Context) (filter.Options, error) {
	return filter.Options{}, nil
}
func (*fakeBackend) Ask(_ context.Context, question string, _ filter.Payload) (chat.Response, error) {
	return chat.Response{Narrative: "Sales rose 4%."}, nil
}
func (*fakeBackend) Speak(context.Context, string) (speech.SpeakResponse, error) {
	return speech.SpeakResponse{Available: true, AudioBase64: base64.StdEncoding.EncodeToString([]byte("mp3"))}, nil
}
func (f *fakeBackend) Transcribe(_ context.Context, clip []byte, _ string) (speech.TranscribeResponse, error) {
	f.mu.Lock()
	f.clip = clip
	f.mu.Unlock()
	return speech.TranscribeResponse{Success: true, Text: "show me the west region"}, nil
}

type fakeSessions map[string]*session.Session

func (f fakeSessions) Get(id string) (*session.Session, error) {
	s, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (f fakeSessions) Touch(id string) bool {
	_, ok := f[id]
	return ok
}

type touchCounter struct {
	fakeSessions
	mu      sync.Mutex
	touched []string
}

func (c *touchCounter) Touch(id string) bool {
	c.mu.Lock()
	c.touched = append(c.touched, id)
	c.mu.Unlock()
	return c.fakeSessions.Touch(id)
}

func (c *touchCounter) Touched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.touched...)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialBridge(t *testing.T, backend *fakeBackend) (*session.Session, *websocket.Conn) {
	t.Helper()
	s := session.New(session.Deps{
		Backend:      backend,
		Personas:     persona.NewMemoryStore(persona.Seed()),
		Logger:       zerolog.Nop(),
		VoiceEnabled: true,
	}, "browser-1")
	t.Cleanup(s.Close)

	r := chi.NewRouter()
	r.Route("/sessions", func(sr chi.Router) {
		NewWebSocketHandler(fakeSessions{s.ID: s}, zerolog.Nop()).RegisterRoutes(sr)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID + "/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(inboundMessage{Type: msgType, Data: raw}))
}

// readUntil skips frames until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", msgType)
		if f.Type == msgType {
			return f
		}
	}
}

func readState(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for state %s", want)
		if f.Type != "state" {
			continue
		}
		var st map[string]string
		require.NoError(t, json.Unmarshal(f.Data, &st))
		if st["state"] == want {
			return
		}
	}
}

func TestBridgeRecordsAndFillsInput(t *testing.T) {
	backend := &fakeBackend{}
	s, conn := dialBridge(t, backend)

	readState(t, conn, "idle")
	sendFrame(t, conn, "hello", HelloMessage{Capture: true, Synthesis: true})
	readUntil(t, conn, "ready")

	sendFrame(t, conn, "toggle", nil)
	readUntil(t, conn, "permission_request")
	sendFrame(t, conn, "permission", PermissionMessage{Granted: true})
	readState(t, conn, "recording")

	sendFrame(t, conn, "chunk", ChunkMessage{Data: base64.StdEncoding.EncodeToString([]byte("ab"))})
	sendFrame(t, conn, "chunk", ChunkMessage{Data: base64.StdEncoding.EncodeToString([]byte("c"))})
	sendFrame(t, conn, "toggle", nil)
	readUntil(t, conn, "stop_capture")
	sendFrame(t, conn, "captured", nil)

	input := readUntil(t, conn, "input")
	var payload map[string]string
	require.NoError(t, json.Unmarshal(input.Data, &payload))
	assert.Equal(t, "show me the west region", payload["text"])
	readState(t, conn, "idle")

	backend.mu.Lock()
	assert.Equal(t, "abc", string(backend.clip))
	backend.mu.Unlock()
	assert.Equal(t, "show me the west region", s.Chat.Draft())
}

func TestBridgeDeniedPermissionRaisesNotice(t *testing.T) {
	_, conn := dialBridge(t, &fakeBackend{})

	sendFrame(t, conn, "hello", HelloMessage{Capture: true})
	readUntil(t, conn, "ready")
	sendFrame(t, conn, "toggle", nil)
	readUntil(t, conn, "permission_request")
	sendFrame(t, conn, "permission", PermissionMessage{Granted: false, Message: "NotAllowedError"})

	f := readUntil(t, conn, "notice")
	var notice map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &notice))
	assert.Equal(t, "Microphone access denied", notice["title"])
	assert.Equal(t, "NotAllowedError", notice["message"])
}

func TestBridgePlaysAssistantReply(t *testing.T) {
	s, conn := dialBridge(t, &fakeBackend{})

	sendFrame(t, conn, "hello", HelloMessage{Capture: true, Synthesis: true})
	readUntil(t, conn, "ready")

	_, err := s.Chat.Send(context.Background(), "How did we do?")
	require.NoError(t, err)

	f := readUntil(t, conn, "play")
	var play map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &play))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3")), play["audio"])
	assert.Equal(t, speech.FormatMP3, play["format"])
}

func TestBridgeWithoutCaptureIsUnsupported(t *testing.T) {
	_, conn := dialBridge(t, &fakeBackend{})

	sendFrame(t, conn, "hello", HelloMessage{})
	readUntil(t, conn, "ready")
	sendFrame(t, conn, "toggle", nil)

	f := readUntil(t, conn, "notice")
	var notice map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &notice))
	assert.Equal(t, "Voice unavailable", notice["title"])
}

func TestBridgeUnknownSession(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/sessions", func(sr chi.Router) {
		NewWebSocketHandler(fakeSessions{}, zerolog.Nop()).RegisterRoutes(sr)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/voice/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestBridgePingExtendsSession(t *testing.T) {
	s := session.New(session.Deps{
		Backend:  &fakeBackend{},
		Personas: persona.NewMemoryStore(persona.Seed()),
		Logger:   zerolog.Nop(),
	}, "browser-1")
	t.Cleanup(s.Close)
	sessions := &touchCounter{fakeSessions: fakeSessions{s.ID: s}}

	h := NewWebSocketHandler(sessions, zerolog.Nop())
	h.pingInterval = 10 * time.Millisecond
	r := chi.NewRouter()
	r.Route("/sessions", h.RegisterRoutes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID + "/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(sessions.Touched()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, s.ID, sessions.Touched()[0])
}

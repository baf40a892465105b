package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
	"github.com/zhouzirui/rabbitt-console/internal/service/voice"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

var errClientGone = errors.New("voice client disconnected")

// Sessions 提供会话查找与续期
type Sessions interface {
	Get(id string) (*session.Session, error)
	Touch(id string) bool
}

// WebSocketHandler 浏览器语音桥接：麦克风采集、音频播放与本地朗读
type WebSocketHandler struct {
	sessions          Sessions
	logger            zerolog.Logger
	upgrader          websocket.Upgrader
	permissionTimeout time.Duration
	captureTimeout    time.Duration
	pingInterval      time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(sessions Sessions, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		logger:   logger.With().Str("component", "voice_ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		permissionTimeout: 30 * time.Second,
		captureTimeout:    15 * time.Second,
		pingInterval:      pingInterval,
	}
}

// RegisterRoutes 注册WebSocket路由，挂载在 /sessions 子路由下
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{sessionID}/voice/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// HelloMessage 客户端能力声明
type HelloMessage struct {
	Capture   bool `json:"capture"`
	Synthesis bool `json:"synthesis"`
}

// PermissionMessage 麦克风授权结果
type PermissionMessage struct {
	Granted bool   `json:"granted"`
	Message string `json:"message,omitempty"`
}

// ChunkMessage 一段录音数据（base64）
type ChunkMessage struct {
	Data string `json:"data"`
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("session", s.ID).Logger()
	logger.Info().Msg("voice bridge connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := newBridgeClient(conn, s.ID, logger, h.permissionTimeout, h.captureTimeout)
	defer client.close()

	detach := s.AttachClient(client)
	defer detach()

	events, unsubscribe := s.Broker.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.forwardEvents(ctx, client, events)
	go h.pingLoop(ctx, client)

	client.send("state", map[string]string{"state": string(s.Voice.State())})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != s.ID {
			client.sendError("session mismatch")
			continue
		}
		h.handleMessage(s, client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(s *session.Session, client *bridgeClient, msg *inboundMessage) {
	switch msg.Type {
	case "hello":
		var hello HelloMessage
		if err := json.Unmarshal(msg.Data, &hello); err != nil {
			client.sendError("invalid hello payload")
			return
		}
		client.setCapabilities(hello)
		client.send("ready", map[string]any{
			"capture":   hello.Capture,
			"synthesis": hello.Synthesis,
			"state":     s.Voice.State(),
		})
	case "toggle":
		// Start blocks on the permission reply, which arrives on this loop.
		go func() {
			if err := s.Voice.Toggle(s.Context()); errors.Is(err, voice.ErrBusy) {
				client.sendError(err.Error())
			}
		}()
	case "permission":
		var p PermissionMessage
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			client.sendError("invalid permission payload")
			return
		}
		client.resolvePermission(p)
	case "chunk":
		var c ChunkMessage
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			client.sendError("invalid chunk payload")
			return
		}
		data, err := base64.StdEncoding.DecodeString(c.Data)
		if err != nil {
			client.sendError("invalid chunk encoding")
			return
		}
		client.appendChunk(data)
	case "captured":
		client.markCaptured()
	default:
		client.sendError("unsupported message type: " + msg.Type)
	}
}

// forwardEvents 把会话事件中与语音相关的部分推给浏览器
func (h *WebSocketHandler) forwardEvents(ctx context.Context, client *bridgeClient, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var err error
			switch ev.Type {
			case session.EventVoiceState:
				err = client.send("state", ev.Data)
			case session.EventInput:
				err = client.send("input", ev.Data)
			case session.EventNotice:
				err = client.send("notice", ev.Data)
			}
			if err != nil {
				return
			}
		}
	}
}

// pingLoop 定期发送ping消息并续期会话
func (h *WebSocketHandler) pingLoop(ctx context.Context, client *bridgeClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sessions.Touch(client.sessionID)
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

// bridgeClient implements session.Client over one websocket connection.
type bridgeClient struct {
	conn      *websocket.Conn
	sessionID string
	logger    zerolog.Logger

	permissionTimeout time.Duration
	captureTimeout    time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	hello      HelloMessage
	permission chan PermissionMessage
	active     *bridgeCapture
}

var _ session.Client = (*bridgeClient)(nil)

func newBridgeClient(conn *websocket.Conn, sessionID string, logger zerolog.Logger, permissionTimeout, captureTimeout time.Duration) *bridgeClient {
	return &bridgeClient{
		conn:              conn,
		sessionID:         sessionID,
		logger:            logger,
		permissionTimeout: permissionTimeout,
		captureTimeout:    captureTimeout,
		done:              make(chan struct{}),
	}
}

func (c *bridgeClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *bridgeClient) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *bridgeClient) send(msgType string, data any) error {
	if c.closed() {
		return errClientGone
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("type", msgType).Msg("write failed")
	}
	return err
}

func (c *bridgeClient) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *bridgeClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *bridgeClient) setCapabilities(h HelloMessage) {
	c.mu.Lock()
	c.hello = h
	c.mu.Unlock()
}

func (c *bridgeClient) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello.Capture
}

func (c *bridgeClient) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello.Synthesis
}

// Acquire asks the browser for the microphone and waits for its answer.
func (c *bridgeClient) Acquire(ctx context.Context) (voice.Capture, error) {
	reply := make(chan PermissionMessage, 1)
	c.mu.Lock()
	c.permission = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.permission == reply {
			c.permission = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send("permission_request", nil); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.permissionTimeout)
	defer timer.Stop()

	select {
	case p := <-reply:
		if !p.Granted {
			if p.Message == "" {
				p.Message = "permission denied"
			}
			return nil, errors.New(p.Message)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errClientGone
	case <-timer.C:
		return nil, errors.New("permission request timed out")
	}

	capture := &bridgeCapture{client: c, captured: make(chan struct{})}
	c.mu.Lock()
	c.active = capture
	c.mu.Unlock()
	return capture, nil
}

func (c *bridgeClient) resolvePermission(p PermissionMessage) {
	c.mu.Lock()
	reply := c.permission
	c.permission = nil
	c.mu.Unlock()
	if reply == nil {
		c.logger.Debug().Msg("permission reply without pending request")
		return
	}
	reply <- p
}

func (c *bridgeClient) appendChunk(data []byte) {
	c.mu.Lock()
	capture := c.active
	c.mu.Unlock()
	if capture != nil {
		capture.append(data)
	}
}

func (c *bridgeClient) markCaptured() {
	c.mu.Lock()
	capture := c.active
	c.mu.Unlock()
	if capture != nil {
		capture.markCaptured()
	}
}

func (c *bridgeClient) Play(_ context.Context, audio []byte, format string) error {
	if format == "" {
		format = speech.FormatMP3
	}
	return c.send("play", map[string]string{
		"audio":  base64.StdEncoding.EncodeToString(audio),
		"format": format,
	})
}

func (c *bridgeClient) Utter(_ context.Context, text string) error {
	return c.send("utter", map[string]string{"text": text})
}

// bridgeCapture collects chunks until the browser reports the recorder
// has flushed.
type bridgeCapture struct {
	client *bridgeClient

	mu           sync.Mutex
	chunks       [][]byte
	stopped      bool
	captured     chan struct{}
	capturedOnce sync.Once
}

func (b *bridgeCapture) append(data []byte) {
	select {
	case <-b.captured:
		return
	default:
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, data)
	b.mu.Unlock()
}

func (b *bridgeCapture) markCaptured() {
	b.capturedOnce.Do(func() { close(b.captured) })
}

// Stop tells the browser to stop recording and waits for the final chunk.
func (b *bridgeCapture) Stop(ctx context.Context) ([][]byte, error) {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	if err := b.client.send("stop_capture", nil); err != nil {
		return nil, err
	}

	timer := time.NewTimer(b.client.captureTimeout)
	defer timer.Stop()

	select {
	case <-b.captured:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.client.done:
		return nil, errClientGone
	case <-timer.C:
		return nil, errors.New("timed out waiting for recorded audio")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks, nil
}

// Release frees the browser microphone. A capture released before Stop
// still gets a stop_capture frame.
func (b *bridgeCapture) Release() {
	c := b.client
	c.mu.Lock()
	if c.active == b {
		c.active = nil
	}
	c.mu.Unlock()

	b.mu.Lock()
	stopped := b.stopped
	b.stopped = true
	b.mu.Unlock()

	if !stopped {
		c.send("stop_capture", nil)
	}
}

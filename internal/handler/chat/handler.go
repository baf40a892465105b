package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/chat"
	chatService "github.com/zhouzirui/rabbitt-console/internal/service/chat"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
	"github.com/zhouzirui/rabbitt-console/pkg/utils"
)

// Sessions 按ID查找会话
type Sessions interface {
	Get(id string) (*session.Session, error)
}

// Handler 聊天面板的HTTP处理器
type Handler struct {
	sessions Sessions
	logger   zerolog.Logger
}

// New 创建聊天处理器
func New(sessions Sessions, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger.With().Str("component", "chat_handler").Logger(),
	}
}

// RegisterRoutes 注册聊天相关的路由，r 挂载在 /sessions 下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{sessionID}/chat", h.handleTranscript)
	r.Post("/{sessionID}/chat", h.handleSend)
	r.Post("/{sessionID}/chat/replay", h.handleReplay)
}

type transcriptResponse struct {
	Messages     []chat.Message `json:"messages"`
	QuickPrompts []string       `json:"quickPrompts"`
	Draft        string         `json:"draft,omitempty"`
}

// handleTranscript 返回对话记录与快捷提问
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcriptResponse{
		Messages:     s.Chat.Transcript(),
		QuickPrompts: s.Dashboard.QuickPrompts(),
		Draft:        s.Chat.Draft(),
	})
}

// handleSend 发送提问并返回助手回复
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Question string `json:"question"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.Chat.Send(r.Context(), payload.Question)
	if err != nil {
		if errors.Is(err, chatService.ErrEmptyQuestion) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Warn().Err(err).Str("session", s.ID).Msg("chat failed")
		utils.RespondError(w, http.StatusBadGateway, "chat failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleReplay 重新朗读最后一条消息
func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Chat.ReplayLast(); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

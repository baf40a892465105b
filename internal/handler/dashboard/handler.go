package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/model/persona"
	dashboardsvc "github.com/zhouzirui/rabbitt-console/internal/service/dashboard"
	"github.com/zhouzirui/rabbitt-console/internal/service/hydration"
	"github.com/zhouzirui/rabbitt-console/internal/service/session"
	"github.com/zhouzirui/rabbitt-console/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Sessions 会话注册表
type Sessions interface {
	Create(ctx context.Context, clientID string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Touch(id string) bool
	Delete(id string)
}

// Handler 仪表盘会话、筛选条件与事件流的HTTP处理器
type Handler struct {
	sessions  Sessions
	logger    zerolog.Logger
	heartbeat time.Duration
}

// New 创建仪表盘处理器
func New(sessions Sessions, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		logger:    logger.With().Str("component", "dashboard_handler").Logger(),
		heartbeat: defaultHeartbeat,
	}
}

// RegisterRoutes 注册会话相关的路由，r 挂载在 /sessions 下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleCreateSession)
	r.Get("/{sessionID}", h.handleGetSession)
	r.Delete("/{sessionID}", h.handleDeleteSession)

	r.Post("/{sessionID}/filters", h.handleApplyFilters)
	r.Post("/{sessionID}/filters/reset", h.handleResetFilters)
	r.Post("/{sessionID}/filters/preset", h.handleDatePreset)
	r.Post("/{sessionID}/persona/{personaID}", h.handleSelectPersona)

	r.Put("/{sessionID}/layout", h.handleSetLayout)
	r.Post("/{sessionID}/layout/{widget}/toggle", h.handleToggleWidget)

	r.Get("/{sessionID}/events", h.handleEvents)
}

type sessionResponse struct {
	Session   *session.Session   `json:"session"`
	Dashboard dashboardsvc.View  `json:"dashboard"`
	Hydration hydration.Snapshot `json:"hydration"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		Session:   s,
		Dashboard: s.Dashboard.View(),
		Hydration: s.Hydration.Snapshot(),
	}
}

// handleCreateSession 创建会话并完成首次加载
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientID string `json:"clientId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientID := strings.TrimSpace(payload.ClientID)
	if clientID == "" {
		clientID = "default"
	}

	s, err := h.sessions.Create(r.Context(), clientID)
	if err != nil {
		h.logger.Error().Err(err).Str("client", clientID).Msg("create session failed")
		utils.RespondError(w, http.StatusBadGateway, "analytics backend unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, newSessionResponse(s))
}

// handleGetSession 查询会话当前状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(s))
}

// handleDeleteSession 关闭会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.sessions.Delete(s.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyFilters 整体替换筛选条件
func (h *Handler) handleApplyFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var next filter.State
	if err := utils.DecodeJSON(r, &next); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := s.Dashboard.Apply(r.Context(), next)
	h.respondView(w, view, err)
}

// handleResetFilters 恢复默认筛选条件
func (h *Handler) handleResetFilters(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Dashboard.Reset(r.Context())
	h.respondView(w, view, err)
}

// handleDatePreset 应用日期快捷选项
func (h *Handler) handleDatePreset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Label string `json:"label"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.Label == "" {
		utils.RespondError(w, http.StatusBadRequest, "label is required")
		return
	}

	view, err := s.Dashboard.ApplyDatePreset(r.Context(), payload.Label)
	h.respondView(w, view, err)
}

// handleSelectPersona 叠加persona预设的筛选条件
func (h *Handler) handleSelectPersona(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Dashboard.SelectPersona(r.Context(), chi.URLParam(r, "personaID"))
	h.respondView(w, view, err)
}

// handleSetLayout 替换布局配置
func (h *Handler) handleSetLayout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var raw map[string]bool
	if err := utils.DecodeJSON(r, &raw); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	utils.RespondJSON(w, http.StatusOK, s.Dashboard.SetLayout(r.Context(), filter.Layout(raw)))
}

// handleToggleWidget 切换单个组件的可见性
func (h *Handler) handleToggleWidget(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	layout, err := s.Dashboard.ToggleWidget(r.Context(), chi.URLParam(r, "widget"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, layout)
}

// handleEvents 通过SSE推送会话事件
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.Broker.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With().Str("session", s.ID).Logger()
	logger.Debug().Msg("opening event stream")

	if err := utils.SendSSEEvent(w, flusher, string(session.EventHydration), session.Event{
		Type: session.EventHydration,
		Data: s.Hydration.Snapshot(),
		At:   time.Now().UTC(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("closing event stream")
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if !h.sessions.Touch(s.ID) {
				logger.Debug().Msg("session expired, closing event stream")
				return
			}
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// respondView 变更请求返回202，面板数据随后经事件流送达
func (h *Handler) respondView(w http.ResponseWriter, view dashboardsvc.View, err error) {
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusAccepted, view)
	case errors.Is(err, persona.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dashboardsvc.ErrUnknownPreset):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dashboardsvc.ErrNotBootstrapped):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("dashboard update failed")
		utils.RespondError(w, http.StatusInternalServerError, "dashboard update failed")
	}
}

package voice

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
	"github.com/zhouzirui/rabbitt-console/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Backend 抽象远端语音服务，便于测试与替换实现
type Backend interface {
	Speak(ctx context.Context, text string) (speech.SpeakResponse, error)
	Transcribe(ctx context.Context, clip []byte, filename string) (speech.TranscribeResponse, error)
}

// Handler 语音合成与转写的HTTP处理器，透传到分析服务
type Handler struct {
	backend Backend
	logger  zerolog.Logger
}

// New 创建语音处理器
func New(backend Backend, logger zerolog.Logger) *Handler {
	return &Handler{
		backend: backend,
		logger:  logger.With().Str("component", "voice_handler").Logger(),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/voice", func(voiceRouter chi.Router) {
		voiceRouter.Post("/speak", h.handleSpeak)
		voiceRouter.Post("/transcribe", h.handleTranscribe)
		voiceRouter.Get("/health", h.handleHealth)
	})
}

// handleSpeak 处理文本转语音请求
func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speech.SpeakRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	resp, err := h.backend.Speak(r.Context(), req.Text)
	if err != nil {
		h.logger.Warn().Err(err).Msg("speak proxy failed")
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	clip, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	filename := header.Filename
	if filename == "" {
		filename = speech.RecordingFilename
	}

	resp, err := h.backend.Transcribe(r.Context(), clip, filename)
	if err != nil {
		h.logger.Warn().Err(err).Int("bytes", len(clip)).Msg("transcribe proxy failed")
		utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "voice",
	})
}

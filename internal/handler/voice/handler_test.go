package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
)

type fakeVoiceBackend struct {
	spokenText string
	clip       []byte
	filename   string
}

func (f *fakeVoiceBackend) Speak(_ context.Context, text string) (speech.SpeakResponse, error) {
	f.spokenText = text
	return speech.SpeakResponse{Available: true, AudioBase64: "SUQz"}, nil
}

func (f *fakeVoiceBackend) Transcribe(_ context.Context, clip []byte, filename string) (speech.TranscribeResponse, error) {
	f.clip = clip
	f.filename = filename
	return speech.TranscribeResponse{Success: true, Text: "ok"}, nil
}

func newVoiceRouter(backend Backend) *chi.Mux {
	r := chi.NewRouter()
	New(backend, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func TestTranscribeForwardsUpload(t *testing.T) {
	fake := &fakeVoiceBackend{}
	r := newVoiceRouter(fake)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", speech.RecordingFilename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/voice/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if string(fake.clip) != "audio" || fake.filename != speech.RecordingFilename {
		t.Fatalf("unexpected upload: %q %q", fake.clip, fake.filename)
	}
}

func TestTranscribeRequiresFile(t *testing.T) {
	r := newVoiceRouter(&fakeVoiceBackend{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("language", "en-US")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/voice/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestSpeakProxy(t *testing.T) {
	fake := &fakeVoiceBackend{}
	r := newVoiceRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/voice/speak", strings.NewReader(`{"text":"Sales rose."}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var resp speech.SpeakResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !resp.Available || resp.AudioBase64 != "SUQz" || fake.spokenText != "Sales rose." {
		t.Fatalf("unexpected response: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/voice/speak", strings.NewReader(`{"text":"   "}`))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank text should be rejected, got %d", rr.Code)
	}
}

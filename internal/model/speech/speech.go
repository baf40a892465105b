package speech

// SpeakRequest is the body of POST /api/voice/speak.
type SpeakRequest struct {
	Text string `json:"text"`
}

// SpeakResponse reports whether remote synthesis produced audio.
type SpeakResponse struct {
	Available   bool   `json:"available"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Message     string `json:"message,omitempty"`
}

// TranscribeResponse is the result of POST /api/voice/transcribe.
type TranscribeResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Audio formats used across the voice pipeline.
const (
	FormatMP3  = "mp3"
	FormatWebM = "webm"
)

// RecordingFilename is the upload name of a captured clip.
const RecordingFilename = "recording.webm"

// Package analytics is the HTTP client for the analytics and NLP backend.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/analytics"
	"github.com/zhouzirui/rabbitt-console/internal/model/chat"
	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/model/speech"
)

// DefaultBaseURL matches the backend's default listen address.
const DefaultBaseURL = "http://localhost:8000"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client talks to the analytics backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New creates a client. A nil HTTPClient gets one with opts.Timeout.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: hc,
		logger:     opts.Logger.With().Str("component", "analytics-client").Logger(),
	}
}

// Health pings GET /api/health.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/api/health", &out)
}

// FetchFilters loads the filter vocabulary.
func (c *Client) FetchFilters(ctx context.Context) (filter.Options, error) {
	var opts filter.Options
	if err := c.getJSON(ctx, "/api/filters", &opts); err != nil {
		return filter.Options{}, err
	}
	return opts, nil
}

// FetchKPIs loads the KPI block for payload.
func (c *Client) FetchKPIs(ctx context.Context, payload filter.Payload) (*analytics.KPIBlock, error) {
	var out analytics.KPIBlock
	if err := c.postJSON(ctx, "/api/metrics/kpi", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchSeries loads the monthly net sales trend.
func (c *Client) FetchSeries(ctx context.Context, payload filter.Payload) ([]analytics.SeriesPoint, error) {
	var out struct {
		Data []analytics.SeriesPoint `json:"data"`
	}
	if err := c.postJSON(ctx, "/api/metrics/series?metric=net_sales&freq=M", payload, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FetchBreakdown loads values grouped by groupBy (region or category).
func (c *Client) FetchBreakdown(ctx context.Context, payload filter.Payload, groupBy string) ([]analytics.BreakdownRow, error) {
	var out struct {
		Data []map[string]any `json:"data"`
	}
	path := "/api/metrics/breakdown?group_by=" + url.QueryEscape(groupBy)
	if err := c.postJSON(ctx, path, payload, &out); err != nil {
		return nil, err
	}

	rows := make([]analytics.BreakdownRow, 0, len(out.Data))
	for _, item := range out.Data {
		row := analytics.BreakdownRow{}
		if g, ok := item[groupBy]; ok && g != nil {
			row.Group = fmt.Sprint(g)
		}
		if v, ok := item["value"].(float64); ok {
			row.Value = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchRecommendations loads the recommendation list.
func (c *Client) FetchRecommendations(ctx context.Context, payload filter.Payload) ([]string, error) {
	var out struct {
		Items []string `json:"items"`
	}
	if err := c.postJSON(ctx, "/api/insights/recommendations", payload, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// FetchAnomalies loads flagged anomalies.
func (c *Client) FetchAnomalies(ctx context.Context, payload filter.Payload) ([]analytics.Anomaly, error) {
	var out struct {
		Items []analytics.Anomaly `json:"items"`
	}
	if err := c.postJSON(ctx, "/api/insights/anomalies", payload, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Ask sends a chat question scoped by the filter payload.
func (c *Client) Ask(ctx context.Context, question string, payload filter.Payload) (chat.Response, error) {
	var out chat.Response
	if err := c.postJSON(ctx, "/api/chat", payload.With("question", question), &out); err != nil {
		return chat.Response{}, err
	}
	return out, nil
}

// Speak requests remote synthesis of text.
func (c *Client) Speak(ctx context.Context, text string) (speech.SpeakResponse, error) {
	var out speech.SpeakResponse
	if err := c.postJSON(ctx, "/api/voice/speak", speech.SpeakRequest{Text: text}, &out); err != nil {
		return speech.SpeakResponse{}, err
	}
	return out, nil
}

// Transcribe uploads a recorded clip as multipart field "file".
func (c *Client) Transcribe(ctx context.Context, clip []byte, filename string) (speech.TranscribeResponse, error) {
	if filename == "" {
		filename = speech.RecordingFilename
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return speech.TranscribeResponse{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip); err != nil {
		return speech.TranscribeResponse{}, fmt.Errorf("write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return speech.TranscribeResponse{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice/transcribe", body)
	if err != nil {
		return speech.TranscribeResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out speech.TranscribeResponse
	if err := c.do(req, "/api/voice/transcribe", &out); err != nil {
		return speech.TranscribeResponse{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", endpointName(path), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	endpoint := endpointName(path)
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func endpointName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

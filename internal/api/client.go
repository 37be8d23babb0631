// Package api is an HTTP client for the quakesafe backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/model"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// Client talks to the backend at BaseURL. UserID scopes pin and chat
// requests; empty means all users.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
	limiter    *RateLimiter
}

// NewClient creates a client for baseURL limited to rps requests per second.
func NewClient(baseURL string, rps float64, timeout time.Duration) *Client {
	burst := int(rps)
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    NewRateLimiter(rps, burst),
	}
}

// Upload describes an image to submit for assessment.
type Upload struct {
	Filename    string
	ContentType string
	Data        io.Reader
	Label       string
	Latitude    *float64
	Longitude   *float64
}

// FetchPins returns every image the backend knows about as a pin record.
func (c *Client) FetchPins(ctx context.Context) ([]model.PinRecord, error) {
	q := url.Values{}
	if c.UserID != "" {
		q.Set("user_id", c.UserID)
	}
	var pins []model.PinRecord
	if err := c.getJSON(ctx, "/api/pins", q, &pins); err != nil {
		return nil, fmt.Errorf("fetching pins: %w", err)
	}
	return pins, nil
}

// FetchAssessments returns the assessments recorded for one image, newest first.
func (c *Client) FetchAssessments(ctx context.Context, imageID string) ([]model.Assessment, error) {
	q := url.Values{"image_id": {imageID}}
	var stored []model.StoredAssessment
	if err := c.getJSON(ctx, "/api/assessments", q, &stored); err != nil {
		return nil, fmt.Errorf("fetching assessments for %s: %w", imageID, err)
	}
	out := make([]model.Assessment, len(stored))
	for i, s := range stored {
		out[i] = s.Assessment
	}
	return out, nil
}

// UploadImage submits an image and returns the stored image and its assessment.
func (c *Client) UploadImage(ctx context.Context, up Upload) (*model.SafetyAssessmentResult, error) {
	for _, f := range []*float64{up.Latitude, up.Longitude} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return nil, fmt.Errorf("uploading image: coordinate %v is not a finite number", *f)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{"user_id": c.UserID, "label": up.Label}
	if up.Latitude != nil {
		fields["latitude"] = strconv.FormatFloat(*up.Latitude, 'f', -1, 64)
	}
	if up.Longitude != nil {
		fields["longitude"] = strconv.FormatFloat(*up.Longitude, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	ct := up.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(up.Filename)))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := io.Copy(part, up.Data); err != nil {
		return nil, fmt.Errorf("copying image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var res model.SafetyAssessmentResult
	if err := c.do(ctx, http.MethodPost, "/api/safety-assessment", nil, mw.FormDataContentType(), &body, &res); err != nil {
		return nil, fmt.Errorf("uploading image: %w", err)
	}
	return &res, nil
}

// Chat sends a message to the assistant and returns the stored exchange.
func (c *Client) Chat(ctx context.Context, message string) (*model.ChatReply, error) {
	payload, err := json.Marshal(map[string]string{"user_id": c.UserID, "message": message})
	if err != nil {
		return nil, fmt.Errorf("encoding chat message: %w", err)
	}
	var reply model.ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat", nil, "application/json", bytes.NewReader(payload), &reply); err != nil {
		return nil, fmt.Errorf("sending chat message: %w", err)
	}
	return &reply, nil
}

// ChatHistory returns the user's conversation, oldest first.
func (c *Client) ChatHistory(ctx context.Context) ([]model.ChatMessage, error) {
	q := url.Values{"user_id": {c.UserID}}
	var msgs []model.ChatMessage
	if err := c.getJSON(ctx, "/api/chat", q, &msgs); err != nil {
		return nil, fmt.Errorf("fetching chat history: %w", err)
	}
	return msgs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Package uploader posts media payloads to the remote upload API with
// bounded retries, linear backoff and primary/secondary endpoint selection
// driven by storage accounting.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/relaybot/relaybot/internal/media"
	"github.com/relaybot/relaybot/internal/storage"
)

const (
	// maxUploadBytes is the remote API's per-file limit.
	maxUploadBytes = 10 << 20
	// maxDownloadBytes caps the source fetch; oversized originals may still
	// compress under the upload limit.
	maxDownloadBytes = 100 << 20

	downloadTimeout = 30 * time.Second
	uploadTimeout   = 120 * time.Second
	retryBaseDelay  = 2 * time.Second
)

// Endpoint is one remote upload target.
type Endpoint struct {
	URL   string
	Token string
	Label string
}

func (e Endpoint) configured() bool {
	return e.URL != "" && e.Token != ""
}

// Transcoder compresses an image payload; it must not fail the caller.
type Transcoder interface {
	Transcode(data []byte, fileName string) []byte
}

// Client downloads an attachment, validates and compresses it, and posts it
// to the selected endpoint.
type Client struct {
	logger     *slog.Logger
	primary    Endpoint
	secondary  Endpoint
	video      Endpoint
	accounts   *storage.Accountant
	transcoder Transcoder
	maxRetries int

	downloadClient *http.Client
	uploadClient   *http.Client
	// sleep is replaced in tests to observe backoff without waiting.
	sleep func(time.Duration)
}

func NewClient(log *slog.Logger, primary, secondary, video Endpoint, accounts *storage.Accountant, transcoder Transcoder, maxRetries int) *Client {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		logger:         log.With(slog.String("service", "uploader")),
		primary:        primary,
		secondary:      secondary,
		video:          video,
		accounts:       accounts,
		transcoder:     transcoder,
		maxRetries:     maxRetries,
		downloadClient: &http.Client{Timeout: downloadTimeout},
		uploadClient:   &http.Client{Timeout: uploadTimeout},
		sleep:          time.Sleep,
	}
}

type uploadResponse struct {
	Status string `json:"status"`
	Data   struct {
		URL string `json:"url"`
		ID  string `json:"id"`
	} `json:"data"`
}

// Upload runs the image pipeline: download, signature check, transcode, size
// check, multipart POST. Video signatures abort immediately: the bytes will
// not change between attempts. Everything else is retried with backoff of
// attempt×2s, and the last attempt's error propagates.
func (c *Client) Upload(ctx context.Context, fileURL, fileName string) (string, error) {
	endpoint := c.selectImageEndpoint()

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.logger.Info("upload attempt",
			slog.Int("attempt", attempt),
			slog.Int("max", c.maxRetries),
			slog.String("file", fileName),
			slog.String("endpoint", endpoint.Label),
		)

		url, err := c.tryImageUpload(ctx, endpoint, fileURL, fileName)
		if err == nil {
			return url, nil
		}
		if errors.Is(err, ErrVideoDetected) {
			return "", err
		}

		lastErr = err
		c.logger.Warn("upload attempt failed",
			slog.Int("attempt", attempt),
			slog.String("file", fileName),
			slog.Any("error", err),
		)
		if attempt < c.maxRetries {
			c.sleep(time.Duration(attempt) * retryBaseDelay)
		}
	}
	return "", lastErr
}

// UploadDirect skips compression and routes by signature: video payloads go
// to the video endpoint, everything else to the selected image endpoint.
// Used for the direct-message allow-list path.
func (c *Client) UploadDirect(ctx context.Context, fileURL, fileName string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		url, err := c.tryDirectUpload(ctx, fileURL, fileName)
		if err == nil {
			return url, nil
		}
		if errors.Is(err, ErrVideoUploadUnsupported) {
			return "", err
		}

		lastErr = err
		c.logger.Warn("direct upload attempt failed",
			slog.Int("attempt", attempt),
			slog.String("file", fileName),
			slog.Any("error", err),
		)
		if attempt < c.maxRetries {
			c.sleep(time.Duration(attempt) * retryBaseDelay)
		}
	}
	return "", lastErr
}

func (c *Client) tryImageUpload(ctx context.Context, endpoint Endpoint, fileURL, fileName string) (string, error) {
	data, err := c.download(ctx, fileURL)
	if err != nil {
		return "", err
	}

	if kind := media.DetectKind(data); kind == media.KindVideo {
		return "", fmt.Errorf("%w: %s", ErrVideoDetected, fileName)
	}

	data = c.transcoder.Transcode(data, fileName)
	if len(data) > maxUploadBytes {
		return "", fmt.Errorf("%w: %d bytes after compression", ErrFileTooLarge, len(data))
	}

	return c.post(ctx, endpoint, fileName, data)
}

func (c *Client) tryDirectUpload(ctx context.Context, fileURL, fileName string) (string, error) {
	data, err := c.download(ctx, fileURL)
	if err != nil {
		return "", err
	}
	if len(data) > maxUploadBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}

	endpoint := c.selectImageEndpoint()
	if media.DetectKind(data) == media.KindVideo {
		if !c.video.configured() {
			return "", ErrVideoUploadUnsupported
		}
		endpoint = c.video
	}

	return c.post(ctx, endpoint, fileName, data)
}

// selectImageEndpoint re-evaluates the accountant on every call, so a flip
// during one attachment affects the next attachment in the same batch.
func (c *Client) selectImageEndpoint() Endpoint {
	if c.accounts.PreferSecondary() && c.secondary.configured() {
		return c.secondary
	}
	return c.primary
}

func (c *Client) download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	data, err := media.ReadAllWithLimit(resp.Body, maxDownloadBytes)
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, endpoint Endpoint, fileName string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("build form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}

	metadata, err := json.Marshal(map[string]any{
		"name":                fileName,
		"exemptFromRetention": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metadata)); err != nil {
		return "", fmt.Errorf("write metadata field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	// The API expects the raw token, no "Bearer " prefix.
	req.Header.Set("Authorization", endpoint.Token)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: unexpected status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed uploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Status != "ok" || parsed.Data.URL == "" {
		return "", fmt.Errorf("%w: status=%q", ErrMalformedResponse, parsed.Status)
	}

	sizeMB := float64(len(data)) / (1024 * 1024)
	c.accounts.RecordUpload(sizeMB)

	c.logger.Info("uploaded",
		slog.String("file", fileName),
		slog.String("endpoint", endpoint.Label),
		slog.String("url", parsed.Data.URL),
		slog.Float64("size_mb", sizeMB),
	)
	return parsed.Data.URL, nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

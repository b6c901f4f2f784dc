// Package probe is a small client for a running fundus service, used by the
// fundus-probe command to check readiness and submit images.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	service "github.com/okian/fundus/internal/app"
	"github.com/okian/fundus/internal/domain/variant"
)

const requestIDHeader = "X-Request-ID"

// AnalyzeResult mirrors the body of a successful analyze call.
type AnalyzeResult struct {
	Variant   string `json:"variant"`
	Banner    string `json:"banner,omitempty"`
	RequestID string `json:"-"`
	variant.Result
}

// Client talks to the service's JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Status fetches GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := decode(resp, &st); err != nil {
		return st, err
	}
	return st, nil
}

// AnalyzeFile uploads the image at path.
func (c *Client) AnalyzeFile(ctx context.Context, path string) (AnalyzeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = f.Close() }()
	return c.Analyze(ctx, filepath.Base(path), f)
}

// Analyze uploads an image read from r as the multipart "image" field.
func (c *Client) Analyze(ctx context.Context, filename string, r io.Reader) (AnalyzeResult, error) {
	var res AnalyzeResult

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return res, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	if err := mw.Close(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze", &body)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	id := uuid.NewString()
	req.Header.Set(requestIDHeader, id)

	resp, err := c.http.Do(req)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := decode(resp, &res); err != nil {
		return res, err
	}
	res.RequestID = resp.Header.Get(requestIDHeader)
	if res.RequestID == "" {
		res.RequestID = id
	}
	return res, nil
}

// decode reads a JSON body into v, or an *APIError for non-2xx answers.
func decode(resp *http.Response, v any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResponse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrResponse, err)
	}
	return nil
}

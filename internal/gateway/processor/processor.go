package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/gateway/operations"
)

// Request is what the image engine receives: the parsed operations and the
// resolved source URL.
type Request struct {
	Operations operations.Set `json:"operations"`
	Source     string         `json:"source"`
}

// Result is the transformed image.
type Result struct {
	Bytes        []byte
	Format       string
	OriginalSize int64
}

// Processor is the interface to the external image engine
type Processor interface {
	Process(ctx context.Context, req Request) (*Result, error)
}

// DefaultMaxImageBytes caps the size of a transformed image.
const DefaultMaxImageBytes = 64 << 20

// HTTPClient calls an image engine over HTTP
type HTTPClient struct {
	endpoint string
	client   *http.Client
	maxBytes int64
}

// NewHTTPClient creates a client for the engine at endpoint
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxImageBytes,
	}
}

// WithMaxBytes sets the largest response body accepted from the engine.
func (c *HTTPClient) WithMaxBytes(n int64) *HTTPClient {
	c.maxBytes = n
	return c
}

// Process posts the request as JSON and returns the response body as the image.
// The format comes from X-Image-Format, falling back to the Content-Type subtype.
func (c *HTTPClient) Process(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image processor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image processor response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("image processor response exceeds %d bytes", c.maxBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("image processor returned status %d: %s", resp.StatusCode, msg)
	}

	format := resp.Header.Get("X-Image-Format")
	if format == "" {
		if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mt, "image/") {
			format = strings.TrimPrefix(mt, "image/")
		}
	}
	if format == "" {
		return nil, fmt.Errorf("image processor response has no image format")
	}

	result := &Result{Bytes: data, Format: format}
	if v := resp.Header.Get("X-Original-Size"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			log.Printf("processor: ignoring invalid X-Original-Size %q", v)
		} else {
			result.OriginalSize = size
		}
	}
	return result, nil
}

// ContentType maps an image format to its media type; jpg and jpeg both
// become image/jpeg.
func ContentType(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "jpg" {
		f = "jpeg"
	}
	return "image/" + f
}

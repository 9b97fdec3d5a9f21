// Package avatar hands a finished script to the Tavus video service, which
// renders it as a narrated avatar video.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBaseURL = "https://tavusapi.com"

	StatusQueued     = "queued"
	StatusGenerating = "generating"
	StatusReady      = "ready"
	StatusError      = "error"
)

// ErrVideoFailed is returned when the service reports a failed render.
var ErrVideoFailed = errors.New("video generation failed")

// Config holds the Tavus credentials.
type Config struct {
	BaseURL   string
	APIKey    string
	ReplicaID string
}

// ConfigFromEnv reads TAVUS_API_KEY, TAVUS_REPLICA_ID and TAVUS_BASE_URL.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:   os.Getenv("TAVUS_BASE_URL"),
		APIKey:    os.Getenv("TAVUS_API_KEY"),
		ReplicaID: os.Getenv("TAVUS_REPLICA_ID"),
	}
}

// VideoRequest asks for one avatar video.
type VideoRequest struct {
	ReplicaID     string `json:"replica_id"`
	Script        string `json:"script"`
	VideoName     string `json:"video_name,omitempty"`
	BackgroundURL string `json:"background_url,omitempty"`
}

// Video is the service's view of a video.
type Video struct {
	ID          string `json:"video_id"`
	Status      string `json:"status"`
	HostedURL   string `json:"hosted_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Client talks to the Tavus REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	ReplicaID  string
	HTTPClient *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("TAVUS_API_KEY is required")
	}
	if cfg.ReplicaID == "" {
		return nil, fmt.Errorf("TAVUS_REPLICA_ID is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     cfg.APIKey,
		ReplicaID:  cfg.ReplicaID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// CreateVideo submits a script for rendering. An empty ReplicaID uses the
// client's replica.
func (c *Client) CreateVideo(ctx context.Context, req VideoRequest) (*Video, error) {
	if strings.TrimSpace(req.Script) == "" {
		return nil, fmt.Errorf("script is empty")
	}
	if req.ReplicaID == "" {
		req.ReplicaID = c.ReplicaID
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var v Video
	if err := c.do(ctx, http.MethodPost, "/v2/videos", bytes.NewReader(body), &v); err != nil {
		return nil, fmt.Errorf("creating video: %w", err)
	}
	if v.Status == "" {
		v.Status = StatusQueued
	}
	return &v, nil
}

// VideoStatus fetches the current state of a video.
func (c *Client) VideoStatus(ctx context.Context, id string) (*Video, error) {
	var v Video
	if err := c.do(ctx, http.MethodGet, "/v2/videos/"+id, nil, &v); err != nil {
		return nil, fmt.Errorf("getting video %s: %w", id, err)
	}
	return &v, nil
}

// WaitForCompletion polls every interval until the video is ready, fails,
// or maxWait passes.
func (c *Client) WaitForCompletion(ctx context.Context, id string, interval, maxWait time.Duration) (*Video, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	poll := func() (*Video, error) {
		v, err := c.VideoStatus(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		switch v.Status {
		case StatusReady:
			return v, nil
		case StatusError:
			return v, backoff.Permanent(fmt.Errorf("%w: %s", ErrVideoFailed, id))
		default:
			return v, fmt.Errorf("video %s is %s", id, v.Status)
		}
	}

	v, err := backoff.RetryWithData[*Video](poll, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrVideoFailed) {
		return v, fmt.Errorf("waiting for video %s: %w", id, ctx.Err())
	}
	return v, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tavus returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

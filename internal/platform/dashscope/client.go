package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/genjob-api/internal/generation"
)

// Regional API endpoints.
const (
	BeijingBaseURL   = "https://dashscope.aliyuncs.com/api/v1"
	SingaporeBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
)

const (
	imageSynthesisPath = "/services/aigc/text2image/image-synthesis"
	videoSynthesisPath = "/services/aigc/video-generation/video-synthesis"
	tasksPath          = "/tasks/"

	defaultPollInterval   = 5 * time.Second
	defaultRequestTimeout = 60 * time.Second
	maxResponseBytes      = 1 << 20
)

// Task states reported by the tasks endpoint.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusCanceled  = "CANCELED"
	StatusUnknown   = "UNKNOWN"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("%w: dashscope api key is required", generation.ErrInvalidConfig)

// blockedCodes are the remote codes returned by content moderation.
var blockedCodes = map[string]bool{
	"DataInspectionFailed":  true,
	"DataInspection":        true,
	"IPInfringementSuspect": true,
	"InappropriateContent":  true,
}

// BaseURLFor returns the endpoint of a region name ("beijing" or
// "singapore"); anything else falls back to beijing.
func BaseURLFor(region string) string {
	if strings.EqualFold(strings.TrimSpace(region), "singapore") {
		return SingaporeBaseURL
	}
	return BeijingBaseURL
}

// Options configures the DashScope client.
type Options struct {
	APIKey string
	// BaseURL overrides the regional endpoint when set.
	BaseURL        string
	Region         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// Client performs HTTP calls to the DashScope asynchronous task API.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ generation.Generator = (*Client)(nil)

// NewClient constructs a client with defaults for everything but the key.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = BaseURLFor(opts.Region)
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpClient:   httpClient,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "dashscope")),
	}, nil
}

type taskInput struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageURL       string `json:"img_url,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
}

type taskParameters struct {
	Size         string `json:"size,omitempty"`
	N            int    `json:"n,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	Seed         *int   `json:"seed,omitempty"`
	PromptExtend bool   `json:"prompt_extend"`
	Watermark    bool   `json:"watermark"`
}

type taskRequest struct {
	Model      string         `json:"model"`
	Input      taskInput      `json:"input"`
	Parameters taskParameters `json:"parameters"`
}

type taskResult struct {
	URL     string `json:"url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskOutput struct {
	TaskID     string       `json:"task_id"`
	TaskStatus string       `json:"task_status"`
	Results    []taskResult `json:"results"`
	VideoURL   string       `json:"video_url"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
}

// GenerateImages implements generation.Generator.
func (c *Client) GenerateImages(ctx context.Context, req generation.ImageRequest) ([]string, error) {
	payload := taskRequest{
		Model: req.Model,
		Input: taskInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
		},
		Parameters: taskParameters{
			Size:         req.Size,
			N:            req.Count,
			Seed:         req.Seed,
			PromptExtend: req.PromptExtend,
			Watermark:    req.Watermark,
		},
	}

	out, err := c.run(ctx, imageSynthesisPath, payload)
	if err != nil {
		return nil, err
	}

	var (
		urls     []string
		rejected *taskResult
	)
	for i := range out.Results {
		r := out.Results[i]
		if u := strings.TrimSpace(r.URL); u != "" {
			urls = append(urls, u)
		} else if rejected == nil && r.Code != "" {
			rejected = &r
		}
	}
	if len(urls) == 0 {
		if rejected != nil {
			return nil, remoteError(rejected.Code, rejected.Message)
		}
		return nil, fmt.Errorf("%w: dashscope task %s returned no images", generation.ErrInvalidResponse, out.TaskID)
	}
	if len(urls) < len(out.Results) {
		c.logger.WarnContext(ctx, "some images were not generated",
			slog.String("task_id", out.TaskID),
			slog.Int("requested", req.Count),
			slog.Int("returned", len(urls)))
	}
	return urls, nil
}

// ImageToVideo implements generation.Generator.
func (c *Client) ImageToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	if req.Image.URL == "" {
		return "", fmt.Errorf("%w: image-to-video needs an image url", generation.ErrInvalidParams)
	}
	return c.video(ctx, req, req.Image.URL)
}

// TextToVideo implements generation.Generator.
func (c *Client) TextToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	return c.video(ctx, req, "")
}

func (c *Client) video(ctx context.Context, req generation.VideoRequest, imageURL string) (string, error) {
	payload := taskRequest{
		Model: req.Model,
		Input: taskInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			ImageURL:       imageURL,
			AudioURL:       req.AudioURL,
		},
		Parameters: taskParameters{
			Resolution:   req.Resolution,
			Duration:     req.Duration,
			Seed:         req.Seed,
			PromptExtend: req.PromptExtend,
			Watermark:    req.Watermark,
		},
	}

	out, err := c.run(ctx, videoSynthesisPath, payload)
	if err != nil {
		return "", err
	}
	if out.VideoURL == "" {
		return "", fmt.Errorf("%w: dashscope task %s returned no video", generation.ErrInvalidResponse, out.TaskID)
	}
	return out.VideoURL, nil
}

// run submits a task and waits for it to reach a final state.
func (c *Client) run(ctx context.Context, path string, payload taskRequest) (*taskOutput, error) {
	submitted, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	taskID := submitted.Output.TaskID
	if taskID == "" {
		return nil, fmt.Errorf("%w: dashscope accepted the request without a task id", generation.ErrInvalidResponse)
	}

	log := c.logger.With(slog.String("task_id", taskID), slog.String("model", payload.Model))
	log.DebugContext(ctx, "submitted task", slog.String("request_id", submitted.RequestID))

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dashscope: waiting for task %s: %w", taskID, ctx.Err())
		case <-timer.C:
		}

		polled, err := c.do(ctx, http.MethodGet, tasksPath+taskID, nil)
		if err != nil {
			// A failed poll is retried until the context ends.
			if errors.Is(err, generation.ErrTransientFailure) && ctx.Err() == nil {
				log.WarnContext(ctx, "task poll failed, retrying", slog.String("error", err.Error()))
				timer.Reset(c.pollInterval)
				continue
			}
			return nil, err
		}

		out := polled.Output
		switch out.TaskStatus {
		case StatusSucceeded:
			log.DebugContext(ctx, "task succeeded")
			return &out, nil
		case StatusFailed:
			return nil, remoteError(out.Code, out.Message)
		case StatusCanceled, StatusUnknown:
			return nil, fmt.Errorf("%w: dashscope task %s is %s", generation.ErrGenerationFailed, taskID, strings.ToLower(out.TaskStatus))
		default:
			timer.Reset(c.pollInterval)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*taskResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("dashscope: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("dashscope: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dashscope: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: dashscope: http request: %w", generation.ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dashscope: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: dashscope: read response: %w", generation.ErrTransientFailure, err)
	}

	var decoded taskResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= http.StatusMultipleChoices {
		if decodeErr == nil && decoded.Message != "" {
			return nil, statusError(resp.StatusCode, decoded.Code, decoded.Message)
		}
		return nil, statusError(resp.StatusCode, "", fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: dashscope: decode response: %w", generation.ErrInvalidResponse, decodeErr)
	}
	if decoded.Code != "" {
		return nil, remoteError(decoded.Code, decoded.Message)
	}
	return &decoded, nil
}

// statusError classifies a non-2xx response.
func statusError(status int, code, message string) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: dashscope: %s", generation.ErrTransientFailure, describe(code, message))
	}
	return remoteError(code, message)
}

// remoteError maps a DashScope error code onto a generation sentinel.
func remoteError(code, message string) error {
	switch {
	case blockedCodes[code]:
		return fmt.Errorf("%w: dashscope: %s", generation.ErrContentBlocked, describe(code, message))
	case code == "Throttling" || strings.HasPrefix(code, "Throttling."):
		return fmt.Errorf("%w: dashscope: %s", generation.ErrTransientFailure, describe(code, message))
	default:
		return fmt.Errorf("%w: dashscope: %s", generation.ErrRemoteRejected, describe(code, message))
	}
}

func describe(code, message string) string {
	if message == "" {
		message = "task failed"
	}
	if code == "" {
		return message
	}
	return fmt.Sprintf("%s (%s)", message, code)
}

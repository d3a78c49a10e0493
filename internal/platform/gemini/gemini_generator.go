package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/genjob-api/internal/generation"
	"google.golang.org/genai"
)

// modelsAPI is the subset of genai.Models used by the generator.
type modelsAPI interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
	GenerateVideos(
		ctx context.Context,
		model, prompt string,
		image *genai.Image,
		config *genai.GenerateVideosConfig,
	) (*genai.GenerateVideosOperation, error)
}

// operationsAPI is the subset of genai.Operations used to poll Veo jobs.
type operationsAPI interface {
	GetVideosOperation(
		ctx context.Context,
		op *genai.GenerateVideosOperation,
		config *genai.GetOperationConfig,
	) (*genai.GenerateVideosOperation, error)
}

// filesAPI is the subset of genai.Files used to fetch video bytes.
type filesAPI interface {
	Download(ctx context.Context, uri genai.DownloadURI, config *genai.DownloadFileConfig) ([]byte, error)
}

// Config holds the settings of a GeminiGenerator.
type Config struct {
	APIKey string
	// PollInterval is the delay between Veo operation polls.
	PollInterval time.Duration
	// MaxRetries bounds the retries of a transient API failure.
	MaxRetries int
	// RetryDelay is the base delay of the exponential backoff.
	RetryDelay time.Duration
}

// GeminiGenerator implements the generation.Generator interface using
// Google's Imagen and Veo models.
type GeminiGenerator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// config contains polling and retry settings
	config Config

	// models, operations and files are the genai services in use
	models     modelsAPI
	operations operationsAPI
	files      filesAPI

	// results persists returned media
	results *ResultWriter
}

var _ generation.Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a new instance of GeminiGenerator with the provided dependencies.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - logger: A structured logger for operation logging
//   - config: API key together with polling and retry settings
//   - results: Where generated media is stored
//
// Returns:
//   - A properly initialized GeminiGenerator or an error if initialization fails
func NewGeminiGenerator(
	ctx context.Context,
	logger *slog.Logger,
	config Config,
	results *ResultWriter,
) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if results == nil {
		return nil, fmt.Errorf("%w: result writer cannot be nil", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, config, client.Models, client.Operations, client.Files, results), nil
}

func newGenerator(
	logger *slog.Logger,
	config Config,
	models modelsAPI,
	operations operationsAPI,
	files filesAPI,
	results *ResultWriter,
) *GeminiGenerator {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	return &GeminiGenerator{
		logger:     logger.With(slog.String("component", "gemini")),
		config:     config,
		models:     models,
		operations: operations,
		files:      files,
		results:    results,
	}
}

// GenerateImages implements generation.Generator with an Imagen model.
// The images are written to the output directory and returned as results
// paths. Images removed by safety filtering are skipped; if all of them
// were removed, the call fails with generation.ErrContentBlocked.
func (g *GeminiGenerator) GenerateImages(ctx context.Context, req generation.ImageRequest) ([]string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	config := &genai.GenerateImagesConfig{
		NumberOfImages:   int32(req.Count),
		AspectRatio:      aspectRatio(req.Size),
		NegativePrompt:   req.NegativePrompt,
		Seed:             int32Ptr(req.Seed),
		AddWatermark:     req.Watermark,
		EnhancePrompt:    req.PromptExtend,
		IncludeRAIReason: true,
	}

	var resp *genai.GenerateImagesResponse
	err := g.withRetry(ctx, "generate images", func() error {
		var err error
		resp, err = g.models.GenerateImages(ctx, req.Model, req.Prompt, config)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	var (
		refs     []string
		filtered string
	)
	for _, img := range resp.GeneratedImages {
		if img == nil {
			continue
		}
		if img.Image == nil || len(img.Image.ImageBytes) == 0 {
			if img.RAIFilteredReason != "" && filtered == "" {
				filtered = img.RAIFilteredReason
			}
			continue
		}
		ref, err := g.results.Write("image", img.Image.MIMEType, img.Image.ImageBytes)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		if filtered != "" {
			return nil, fmt.Errorf("%w: %s", generation.ErrContentBlocked, filtered)
		}
		return nil, fmt.Errorf("%w: no images in response", generation.ErrInvalidResponse)
	}

	g.logger.InfoContext(ctx, "Imagen call successful",
		"model", req.Model,
		"requested", req.Count,
		"returned", len(refs))
	return refs, nil
}

// ImageToVideo implements generation.Generator with a Veo model.
// The source image is sent inline, so it must have local bytes.
func (g *GeminiGenerator) ImageToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	data, err := req.Image.Bytes()
	if err != nil {
		return "", fmt.Errorf("%w: gemini needs the image content: %v", generation.ErrInvalidParams, err)
	}
	image := &genai.Image{ImageBytes: data, MIMEType: req.Image.MIMEType}
	return g.video(ctx, req, image)
}

// TextToVideo implements generation.Generator with a Veo model.
func (g *GeminiGenerator) TextToVideo(ctx context.Context, req generation.VideoRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	return g.video(ctx, req, nil)
}

func (g *GeminiGenerator) video(ctx context.Context, req generation.VideoRequest, image *genai.Image) (string, error) {
	duration := int32(req.Duration)
	config := &genai.GenerateVideosConfig{
		NumberOfVideos:  1,
		DurationSeconds: &duration,
		Seed:            int32Ptr(req.Seed),
		Resolution:      strings.ToLower(req.Resolution),
		NegativePrompt:  req.NegativePrompt,
		EnhancePrompt:   req.PromptExtend,
	}

	var op *genai.GenerateVideosOperation
	err := g.withRetry(ctx, "generate videos", func() error {
		var err error
		op, err = g.models.GenerateVideos(ctx, req.Model, req.Prompt, image, config)
		return err
	})
	if err != nil {
		return "", err
	}

	op, err = g.waitForOperation(ctx, op)
	if err != nil {
		return "", err
	}
	return g.storeVideo(ctx, op)
}

// waitForOperation polls op until it is done or ctx ends.
func (g *GeminiGenerator) waitForOperation(
	ctx context.Context,
	op *genai.GenerateVideosOperation,
) (*genai.GenerateVideosOperation, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", generation.ErrInvalidResponse)
	}

	for !op.Done {
		g.logger.DebugContext(ctx, "Waiting for video operation", "operation", op.Name)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.config.PollInterval):
		}

		current := op
		err := g.withRetry(ctx, "poll video operation", func() error {
			next, err := g.operations.GetVideosOperation(ctx, current, nil)
			if err == nil {
				op = next
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if op == nil {
			return nil, fmt.Errorf("%w: nil operation", generation.ErrInvalidResponse)
		}
	}

	if len(op.Error) > 0 {
		return nil, operationError(op)
	}
	return op, nil
}

// storeVideo writes the first generated video to the output directory.
func (g *GeminiGenerator) storeVideo(ctx context.Context, op *genai.GenerateVideosOperation) (string, error) {
	resp := op.Response
	if resp == nil || len(resp.GeneratedVideos) == 0 || resp.GeneratedVideos[0] == nil || resp.GeneratedVideos[0].Video == nil {
		if resp != nil && resp.RAIMediaFilteredCount > 0 {
			return "", fmt.Errorf("%w: %s", generation.ErrContentBlocked, strings.Join(resp.RAIMediaFilteredReasons, "; "))
		}
		return "", fmt.Errorf("%w: operation %s returned no video", generation.ErrInvalidResponse, op.Name)
	}

	video := resp.GeneratedVideos[0].Video
	if len(video.VideoBytes) == 0 {
		if video.URI == "" {
			return "", fmt.Errorf("%w: video has neither bytes nor uri", generation.ErrInvalidResponse)
		}
		err := g.withRetry(ctx, "download video", func() error {
			data, err := g.files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
			if err == nil {
				video.VideoBytes = data
			}
			return err
		})
		if err != nil {
			return "", err
		}
	}

	ref, err := g.results.Write("video", video.MIMEType, video.VideoBytes)
	if err != nil {
		return "", err
	}
	g.logger.InfoContext(ctx, "Veo operation completed", "operation", op.Name, "result", ref)
	return ref, nil
}

// withRetry runs call, retrying transient failures with exponential backoff
// and jitter. Permanent errors are returned immediately without retrying.
func (g *GeminiGenerator) withRetry(ctx context.Context, action string, call func() error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		err := mapAPIError(call())
		if err == nil {
			return nil
		}

		if !isRetryable(err) || attempt >= g.config.MaxRetries {
			g.logger.WarnContext(ctx, "Gemini API call failed",
				"action", action,
				"attempt", attempt+1,
				"error", err)
			return err
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		backoff := float64(g.config.RetryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))

		g.logger.InfoContext(ctx, "Retrying after delay",
			"action", action,
			"attempt", attempt+1,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// aspectRatio maps a WIDTH*HEIGHT size onto the closest Imagen aspect ratio.
func aspectRatio(size string) string {
	var w, h int
	if _, err := fmt.Sscanf(size, "%d*%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return "1:1"
	}

	ratios := []struct {
		name  string
		value float64
	}{
		{"1:1", 1}, {"3:4", 3.0 / 4}, {"4:3", 4.0 / 3}, {"9:16", 9.0 / 16}, {"16:9", 16.0 / 9},
	}
	want := float64(w) / float64(h)
	best := ratios[0]
	for _, r := range ratios[1:] {
		if math.Abs(r.value-want) < math.Abs(best.value-want) {
			best = r
		}
	}
	return best.name
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}

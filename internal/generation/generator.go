package generation

import (
	"context"

	"github.com/phrazzld/genjob-api/internal/domain"
)

// ImageRequest is a validated text-to-image call.
type ImageRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Count          int
	Size           string
	Seed           *int
	PromptExtend   bool
	Watermark      bool
}

// VideoRequest is a validated image-to-video or text-to-video call.
type VideoRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	// Image is the staged source image; empty for text-to-video.
	Image        StagedInput
	AudioURL     string
	Resolution   string
	Duration     int
	Seed         *int
	PromptExtend bool
	Watermark    bool
}

// Generator defines the interface for the remote generation service.
// This interface serves as a boundary between the application core and
// external APIs. Implementations block until the remote work finished or
// ctx is done, and must return promptly once ctx is cancelled.
type Generator interface {
	// GenerateImages returns one reference (URL or results path) per image.
	GenerateImages(ctx context.Context, req ImageRequest) ([]string, error)

	// ImageToVideo animates req.Image and returns the video reference.
	ImageToVideo(ctx context.Context, req VideoRequest) (string, error)

	// TextToVideo renders req.Prompt and returns the video reference.
	TextToVideo(ctx context.Context, req VideoRequest) (string, error)
}

// NewImageRequest builds the call for a text-to-image job.
func NewImageRequest(p domain.Params) ImageRequest {
	return ImageRequest{
		Model:          p.Model,
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Count:          p.Count,
		Size:           p.Size,
		Seed:           p.Seed,
		PromptExtend:   p.PromptExtend,
		Watermark:      p.Watermark,
	}
}

// NewVideoRequest builds the call for a video job with an already staged image.
func NewVideoRequest(p domain.Params, image StagedInput) VideoRequest {
	return VideoRequest{
		Model:          p.Model,
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Image:          image,
		AudioURL:       p.AudioURL,
		Resolution:     p.Resolution,
		Duration:       p.Duration,
		Seed:           p.Seed,
		PromptExtend:   p.PromptExtend,
		Watermark:      p.Watermark,
	}
}

// Run dispatches the job to the generator method matching its kind and
// shapes the output as a domain.Result.
func Run(ctx context.Context, g Generator, kind domain.Kind, p domain.Params, image StagedInput) (domain.Result, error) {
	switch kind {
	case domain.KindTextToImage:
		images, err := g.GenerateImages(ctx, NewImageRequest(p))
		if err != nil {
			return domain.Result{}, err
		}
		if len(images) == 0 {
			return domain.Result{}, ErrInvalidResponse
		}
		return domain.Result{Images: images}, nil
	case domain.KindImageToVideo:
		video, err := g.ImageToVideo(ctx, NewVideoRequest(p, image))
		if err != nil {
			return domain.Result{}, err
		}
		return videoResult(video)
	case domain.KindTextToVideo:
		video, err := g.TextToVideo(ctx, NewVideoRequest(p, StagedInput{}))
		if err != nil {
			return domain.Result{}, err
		}
		return videoResult(video)
	default:
		return domain.Result{}, invalid("kind", "unsupported kind %q", kind)
	}
}

func videoResult(video string) (domain.Result, error) {
	if video == "" {
		return domain.Result{}, ErrInvalidResponse
	}
	return domain.Result{Video: video}, nil
}

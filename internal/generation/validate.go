package generation

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/genjob-api/internal/domain"
)

// Parameter bounds shared by every model.
const (
	MinCount = 1
	MaxCount = 4
)

// Defaults applied when a request leaves a field empty.
const (
	DefaultCount      = 1
	DefaultSize       = "1024*1024"
	DefaultResolution = "1080P"
	DefaultDuration   = 10
)

// Resolutions and Durations are the values any video model may accept.
var (
	Resolutions = []string{"480P", "720P", "1080P"}
	Durations   = []int{5, 10}
)

var sizePattern = regexp.MustCompile(`^[1-9][0-9]*\*[1-9][0-9]*$`)

// NormalizeSize canonicalizes "1024x1024" and "1024X1024" to "1024*1024".
// It returns a ValidationError when the result is not WIDTH*HEIGHT.
func NormalizeSize(size string) (string, error) {
	s := strings.TrimSpace(size)
	s = strings.NewReplacer("x", "*", "X", "*", "×", "*").Replace(s)
	if !sizePattern.MatchString(s) {
		return "", invalid("size", "invalid size format: %q (expected WIDTH*HEIGHT)", size)
	}
	return s, nil
}

// imageInput and videoInput carry the generic constraints as validator tags;
// the catalog checks that follow are model specific.
type imageInput struct {
	Prompt string `validate:"required"`
	Model  string `validate:"required"`
	Count  int    `validate:"min=1,max=4"`
	Size   string `validate:"required,size"`
}

type videoInput struct {
	Prompt     string `validate:"required_if=NeedsPrompt true"`
	ImageURL   string `validate:"required_if=NeedsImage true"`
	Model      string `validate:"required"`
	Resolution string `validate:"oneof=480P 720P 1080P"`
	Duration   int    `validate:"oneof=5 10"`

	NeedsPrompt bool
	NeedsImage  bool
}

// Validator fills defaults and rejects parameters a model cannot accept.
// It is safe for concurrent use.
type Validator struct {
	catalog  *Catalog
	validate *validator.Validate
}

// NewValidator creates a Validator backed by catalog.
func NewValidator(catalog *Catalog) *Validator {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		return sizePattern.MatchString(fl.Field().String())
	})
	return &Validator{catalog: catalog, validate: v}
}

// Catalog returns the catalog the validator checks against.
func (v *Validator) Catalog() *Catalog {
	return v.catalog
}

// Normalize applies defaults to p for kind, canonicalizes it and validates
// it against the catalog. Every failure is a *ValidationError wrapping
// ErrInvalidParams.
func (v *Validator) Normalize(kind domain.Kind, p domain.Params) (domain.Params, error) {
	if !kind.Valid() {
		return p, invalid("kind", "unsupported kind %q", kind)
	}

	p.Prompt = strings.TrimSpace(p.Prompt)
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)
	p.Model = strings.TrimSpace(p.Model)
	p.ImageURL = strings.TrimSpace(p.ImageURL)
	p.AudioURL = strings.TrimSpace(p.AudioURL)

	if p.Model == "" {
		m, ok := v.catalog.DefaultModel(kind)
		if !ok {
			return p, invalid("model", "no model available for %s", kind)
		}
		p.Model = m.ID
	}
	model, ok := v.catalog.Lookup(p.Model)
	if !ok {
		return p, invalid("model", "unknown model %q", p.Model)
	}
	if !model.Supports(kind) {
		return p, invalid("model", "model %q does not support %s", p.Model, kind)
	}

	if kind == domain.KindTextToImage {
		return v.normalizeImage(model, p)
	}
	return v.normalizeVideo(kind, model, p)
}

func (v *Validator) normalizeImage(model Model, p domain.Params) (domain.Params, error) {
	if p.Count == 0 {
		p.Count = DefaultCount
	}
	if p.Size == "" {
		p.Size = DefaultSize
	} else {
		size, err := NormalizeSize(p.Size)
		if err != nil {
			return p, err
		}
		p.Size = size
	}
	// Video-only fields are dropped rather than rejected.
	p.Resolution, p.Duration, p.ImageURL, p.AudioURL = "", 0, "", ""

	in := imageInput{Prompt: p.Prompt, Model: p.Model, Count: p.Count, Size: p.Size}
	if err := v.validate.Struct(in); err != nil {
		return p, translate(err)
	}

	if model.MaxBatch > 0 && p.Count > model.MaxBatch {
		return p, invalid("count", "count must be between %d and %d for model %s", MinCount, model.MaxBatch, model.ID)
	}
	if !slices.Contains(model.Sizes, p.Size) {
		return p, invalid("size", "size %s is not supported by %s (supported: %s)",
			p.Size, model.ID, strings.Join(model.Sizes, ", "))
	}
	return p, nil
}

func (v *Validator) normalizeVideo(kind domain.Kind, model Model, p domain.Params) (domain.Params, error) {
	if p.Resolution == "" {
		p.Resolution = DefaultResolution
	}
	p.Resolution = strings.ToUpper(strings.TrimSpace(p.Resolution))
	if p.Duration == 0 {
		p.Duration = DefaultDuration
	}
	p.Count, p.Size = 0, ""
	if kind == domain.KindTextToVideo {
		p.ImageURL = ""
	}

	in := videoInput{
		Prompt:      p.Prompt,
		ImageURL:    p.ImageURL,
		Model:       p.Model,
		Resolution:  p.Resolution,
		Duration:    p.Duration,
		NeedsPrompt: kind == domain.KindTextToVideo,
		NeedsImage:  kind == domain.KindImageToVideo,
	}
	if err := v.validate.Struct(in); err != nil {
		return p, translate(err)
	}

	if !slices.Contains(model.Resolutions, p.Resolution) {
		return p, invalid("resolution", "resolution %s is not supported by %s (supported: %s)",
			p.Resolution, model.ID, strings.Join(model.Resolutions, ", "))
	}
	if !slices.Contains(model.Durations, p.Duration) {
		return p, invalid("duration", "duration %d is not supported by %s (supported: %s)",
			p.Duration, model.ID, joinInts(model.Durations))
	}
	return p, nil
}

// translate turns the first validator failure into a ValidationError.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "params", Message: err.Error()}
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Prompt":
		return invalid("prompt", "prompt is required")
	case "ImageURL":
		return invalid("image_url", "image_url is required")
	case "Model":
		return invalid("model", "model is required")
	case "Count":
		return invalid("count", "count must be between %d and %d", MinCount, MaxCount)
	case "Size":
		return invalid("size", "invalid size format: %q (expected WIDTH*HEIGHT)", fe.Value())
	case "Resolution":
		return invalid("resolution", "resolution must be one of %s", strings.Join(Resolutions, ", "))
	case "Duration":
		return invalid("duration", "duration must be one of %s seconds", joinInts(Durations))
	default:
		return invalid(strings.ToLower(fe.Field()), "%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

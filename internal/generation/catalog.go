package generation

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/phrazzld/genjob-api/internal/domain"
	"gopkg.in/yaml.v3"
)

// Providers a model can be served by.
const (
	ProviderDashScope = "dashscope"
	ProviderGemini    = "gemini"
)

//go:embed models.yaml
var defaultCatalogYAML []byte

// Model describes one remote model and the parameter values it accepts.
type Model struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Provider    string        `yaml:"provider" json:"provider"`
	Kinds       []domain.Kind `yaml:"kinds" json:"kinds"`
	Default     bool          `yaml:"default" json:"default"`
	Sizes       []string      `yaml:"sizes,omitempty" json:"sizes,omitempty"`
	MaxBatch    int           `yaml:"max_batch,omitempty" json:"max_batch,omitempty"`
	Resolutions []string      `yaml:"resolutions,omitempty" json:"resolutions,omitempty"`
	Durations   []int         `yaml:"durations,omitempty" json:"durations,omitempty"`
}

// Supports reports whether the model can run jobs of kind.
func (m Model) Supports(kind domain.Kind) bool {
	return slices.Contains(m.Kinds, kind)
}

// Catalog is the set of models the service accepts. It is immutable after
// loading and safe for concurrent use.
type Catalog struct {
	models []Model
	byID   map[string]Model
}

type catalogDocument struct {
	Models []Model `yaml:"models"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded model catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file, or returns DefaultCatalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("model catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and checks a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("%w: catalog lists no models", ErrInvalidConfig)
	}

	c := &Catalog{byID: make(map[string]Model, len(doc.Models))}
	for _, m := range doc.Models {
		if err := checkModel(m); err != nil {
			return nil, err
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate model %q", ErrInvalidConfig, m.ID)
		}
		c.byID[m.ID] = m
		c.models = append(c.models, m)
	}
	return c, nil
}

func checkModel(m Model) error {
	if m.ID == "" {
		return fmt.Errorf("%w: model without id", ErrInvalidConfig)
	}
	if m.Provider != ProviderDashScope && m.Provider != ProviderGemini {
		return fmt.Errorf("%w: model %q has unknown provider %q", ErrInvalidConfig, m.ID, m.Provider)
	}
	if len(m.Kinds) == 0 {
		return fmt.Errorf("%w: model %q lists no kinds", ErrInvalidConfig, m.ID)
	}
	for _, k := range m.Kinds {
		if !k.Valid() {
			return fmt.Errorf("%w: model %q has unknown kind %q", ErrInvalidConfig, m.ID, k)
		}
		if k == domain.KindTextToImage && len(m.Sizes) == 0 {
			return fmt.Errorf("%w: image model %q lists no sizes", ErrInvalidConfig, m.ID)
		}
		if k.IsVideo() && (len(m.Resolutions) == 0 || len(m.Durations) == 0) {
			return fmt.Errorf("%w: video model %q needs resolutions and durations", ErrInvalidConfig, m.ID)
		}
	}
	return nil
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Models returns every model in catalog order.
func (c *Catalog) Models() []Model {
	return slices.Clone(c.models)
}

// ForKind returns the models that support kind, in catalog order.
func (c *Catalog) ForKind(kind domain.Kind) []Model {
	var out []Model
	for _, m := range c.models {
		if m.Supports(kind) {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModel returns the model used when a request for kind names none:
// the first one marked default, else the first that supports the kind.
func (c *Catalog) DefaultModel(kind domain.Kind) (Model, bool) {
	models := c.ForKind(kind)
	for _, m := range models {
		if m.Default {
			return m, true
		}
	}
	if len(models) > 0 {
		return models[0], true
	}
	return Model{}, false
}

// Provider returns the provider serving model id.
func (c *Catalog) Provider(id string) (string, error) {
	m, ok := c.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m.Provider, nil
}

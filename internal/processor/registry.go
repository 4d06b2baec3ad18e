package processor

import (
	"alpharius-go/internal/logger"
	"alpharius-go/internal/models"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Config is handed to every factory.
type Config struct {
	LookbackStart time.Time
	LookbackEnd   time.Time
	Interday      map[string]models.Series
	OutputDir     string
	// Logger overrides the per-processor file logger.
	Logger  *zap.SugaredLogger
	Options map[string]any
}

// loggerFor returns the detail logger of a processor, written to <output>/<snake_name>.txt.
func (c Config) loggerFor(name string) *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.OutputDir == "" {
		return zap.NewNop().Sugar()
	}
	return logger.NewFileLogger(filepath.Join(c.OutputDir, logger.SnakeName(name)+".txt"), true)
}

// decodeOptions fills out from the raw option map, rejecting unknown keys.
func (c Config) decodeOptions(name string, out any) error {
	if len(c.Options) == 0 {
		return nil
	}
	raw, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("%w: options of %s: %v", models.ErrConfiguration, name, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: options of %s: %v", models.ErrConfiguration, name, err)
	}
	return nil
}

type Factory func(cfg Config) (Processor, error)

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names returns the registered processor names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Build(name string, cfg Config) (Processor, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown processor %q", models.ErrConfiguration, name)
	}
	return f(cfg)
}

// BuildAll instantiates the configured processors in order.
func (r *Registry) BuildAll(configs []models.ProcessorConfig, base Config) ([]Processor, error) {
	processors := make([]Processor, 0, len(configs))
	for _, pc := range configs {
		cfg := base
		cfg.Options = pc.Options
		p, err := r.Build(pc.Name, cfg)
		if err != nil {
			return nil, err
		}
		processors = append(processors, p)
	}
	return processors, nil
}

// DefaultRegistry knows the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(O2hName, NewO2h)
	r.Register(H2lHourName, NewH2lHour)
	r.Register(OvernightName, NewOvernight)
	return r
}

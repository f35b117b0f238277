package upstream

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrModelNotFound is returned when a requested model ID is not registered.
var ErrModelNotFound = errors.New("model not found")

// ModelConfig describes one inference backend serving a model. The endpoint
// is an OpenAI-compatible base URL (e.g. http://127.0.0.1:8001/v1).
type ModelConfig struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	OwnedBy  string `yaml:"owned_by"`
}

// registryFile is the models section of the spigot configuration file.
type registryFile struct {
	Models []ModelConfig `yaml:"models"`
}

// Registry maps model IDs to their backend configuration.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelConfig
}

// NewRegistry creates a registry from a model list.
func NewRegistry(models []ModelConfig) *Registry {
	r := &Registry{models: make(map[string]ModelConfig, len(models))}
	for _, m := range models {
		r.models[m.ID] = m
	}
	return r
}

// LoadRegistry reads the model registry from a YAML file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before
// parsing, so backend API keys can stay out of the file itself.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	var f registryFile
	if err := yaml.Unmarshal([]byte(content), &f); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}

	for i, m := range f.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("models[%d]: missing id", i)
		}
		if m.Endpoint == "" {
			return nil, fmt.Errorf("model %q: missing endpoint", m.ID)
		}
	}
	return NewRegistry(f.Models), nil
}

// Get returns the configuration for a model ID.
func (r *Registry) Get(id string) (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return ModelConfig{}, ErrModelNotFound
	}
	return m, nil
}

// List returns all registered models sorted by ID.
func (r *Registry) List() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register adds or replaces a model configuration at runtime.
func (r *Registry) Register(m ModelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

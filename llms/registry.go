package llms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LunaDeerTech/Agentex/registry"
)

// ============================================================================
// PROVIDER REGISTRY
// ============================================================================

// Factory constructs a Provider from config.
type Factory func(cfg Config) (Provider, error)

// Registry resolves provider names to factories. Unknown names fail at
// construction time, never during a run.
type Registry struct {
	factories *registry.BaseRegistry[Factory]
}

// NewRegistry creates a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: registry.NewBaseRegistry[Factory]()}
	_ = r.RegisterProvider("openai", func(cfg Config) (Provider, error) {
		return NewOpenAIProvider(cfg)
	})
	_ = r.RegisterProvider("anthropic", func(cfg Config) (Provider, error) {
		return NewAnthropicProvider(cfg)
	})
	return r
}

// RegisterProvider adds a provider factory under name.
func (r *Registry) RegisterProvider(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("provider factory cannot be nil")
	}
	return r.factories.Register(strings.ToLower(name), factory)
}

// Create builds a provider by name.
func (r *Registry) Create(name string, cfg Config) (Provider, error) {
	factory, exists := r.factories.Get(strings.ToLower(name))
	if !exists {
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: %s)",
			name, strings.Join(r.Providers(), ", "))
	}
	return factory(cfg)
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	names := r.factories.Names()
	sort.Strings(names)
	return names
}

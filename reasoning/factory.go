package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/llms"
	"github.com/LunaDeerTech/Agentex/registry"
)

// ============================================================================
// AGENT FACTORY
// ============================================================================

// Options carries everything a variant constructor may need. Variants ignore
// the fields they have no use for.
type Options struct {
	Provider llms.Provider
	Tools    []agent.Tool
	Config   agent.Config

	// Agentic-RAG.
	KnowledgeBaseIDs []string
	Retrieval        RetrievalFunc
	RAG              RAGConfig

	// Plan-and-execute.
	Plan PlanConfig
}

// Factory builds one agent variant from options.
type Factory func(opts Options) (agent.Agent, error)

// Registry maps variant names to factories.
type Registry struct {
	factories *registry.BaseRegistry[Factory]
}

// NewRegistry creates a registry with the built-in variants registered.
func NewRegistry() *Registry {
	r := &Registry{factories: registry.NewBaseRegistry[Factory]()}

	r.Register("react", func(opts Options) (agent.Agent, error) {
		return NewReActAgent(opts.Provider, opts.Tools, opts.Config), nil
	})
	r.Register("agentic_rag", func(opts Options) (agent.Agent, error) {
		return NewAgenticRAGAgent(opts.Provider, opts.Tools, opts.Config, opts.RAG, opts.KnowledgeBaseIDs, opts.Retrieval), nil
	})
	r.Register("plan_execute", func(opts Options) (agent.Agent, error) {
		return NewPlanAndExecuteAgent(opts.Provider, opts.Tools, opts.Config, opts.Plan), nil
	})

	return r
}

// Register adds a factory under a name.
func (r *Registry) Register(name string, factory Factory) error {
	return r.factories.Register(strings.ToLower(name), factory)
}

// Create builds the named variant. Names are case-insensitive.
func (r *Registry) Create(agentType string, opts Options) (agent.Agent, error) {
	factory, exists := r.factories.Get(strings.ToLower(agentType))
	if !exists {
		return nil, fmt.Errorf("unsupported agent type: %s (supported: %s)",
			agentType, strings.Join(r.Types(), ", "))
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent type %s requires an LLM provider", agentType)
	}
	opts.Config.SetDefaults()
	return factory(opts)
}

// Types returns the registered variant names, sorted.
func (r *Registry) Types() []string {
	names := r.factories.Names()
	sort.Strings(names)
	return names
}

// Command agentex runs the agent execution core: an HTTP server streaming
// AG-UI events, an interactive chat, and config tooling.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/config"
	"github.com/LunaDeerTech/Agentex/llms"
	"github.com/LunaDeerTech/Agentex/logger"
	"github.com/LunaDeerTech/Agentex/reasoning"
	"github.com/LunaDeerTech/Agentex/retrieval"
	"github.com/LunaDeerTech/Agentex/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with an agent from the terminal."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("agentex version %s\n", version)
	return nil
}

// ============================================================================
// SHARED SETUP
// ============================================================================

// llmFlags are the zero-config provider overrides shared by serve and chat.
type llmFlags struct {
	Provider    string  `help:"LLM provider (openai, anthropic)."`
	Model       string  `help:"Model name."`
	APIKey      string  `name:"api-key" help:"API key (defaults to environment variable)."`
	BaseURL     string  `name:"base-url" help:"Custom API base URL."`
	Temperature float64 `help:"Temperature for generation." default:"0"`
	MaxTokens   int     `name:"max-tokens" help:"Max tokens for generation." default:"0"`
	Instruction string  `help:"System prompt for the agent."`
	AgentType   string  `name:"agent-type" help:"Agent variant (react, agentic_rag, plan_execute)."`
	DocsFolder  string  `name:"docs-folder" help:"Folder of text documents to index for agentic_rag." type:"path"`
}

// loadConfig merges the config file (when given) with flag overrides.
func loadConfig(cli *CLI, flags llmFlags) (*config.Config, error) {
	var cfg *config.Config
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if err := config.LoadEnvFiles(); err != nil {
			return nil, err
		}
		cfg = &config.Config{}
	}

	if flags.Provider != "" {
		cfg.LLM.Provider = flags.Provider
	}
	if flags.Model != "" {
		cfg.LLM.Model = flags.Model
	}
	if flags.APIKey != "" {
		cfg.LLM.APIKey = flags.APIKey
	}
	if flags.BaseURL != "" {
		cfg.LLM.BaseURL = flags.BaseURL
	}
	if flags.Temperature != 0 {
		cfg.LLM.Temperature = flags.Temperature
		cfg.Agent.Temperature = flags.Temperature
	}
	if flags.MaxTokens != 0 {
		cfg.LLM.MaxTokens = flags.MaxTokens
		cfg.Agent.MaxTokens = flags.MaxTokens
	}
	if flags.Instruction != "" {
		cfg.Agent.SystemPrompt = flags.Instruction
	}
	if flags.AgentType != "" {
		cfg.Agent.Type = flags.AgentType
	}

	cfg.SetDefaults()
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = apiKeyFromEnv(cfg.LLM.Provider)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apiKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// buildAgentOptions wires the provider and optional retrieval store.
func buildAgentOptions(cfg *config.Config, docsFolder string) (reasoning.Options, func(), error) {
	provider, err := llms.NewRegistry().Create(cfg.LLM.Provider, cfg.LLM.Config)
	if err != nil {
		return reasoning.Options{}, nil, err
	}
	cleanup := func() { _ = provider.Close() }

	opts := reasoning.Options{
		Provider:         provider,
		Config:           cfg.Agent.Config,
		KnowledgeBaseIDs: cfg.Agent.KnowledgeBases,
		RAG:              cfg.Agent.RAG,
		Plan:             cfg.Agent.Plan,
	}

	if docsFolder != "" {
		store, err := retrieval.NewStore(cfg.Retrieval, nil)
		if err != nil {
			cleanup()
			return reasoning.Options{}, nil, err
		}
		kbID, err := indexDocsFolder(store, docsFolder)
		if err != nil {
			cleanup()
			return reasoning.Options{}, nil, err
		}
		opts.Retrieval = store.Retrieve
		if len(opts.KnowledgeBaseIDs) == 0 {
			opts.KnowledgeBaseIDs = []string{kbID}
		}
		prev := cleanup
		cleanup = func() {
			_ = store.Close()
			prev()
		}
	}

	return opts, cleanup, nil
}

// indexDocsFolder ingests every regular file in dir as one document under a
// knowledge base named after the folder.
func indexDocsFolder(store *retrieval.Store, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read docs folder: %w", err)
	}

	kbID := "docs"
	var docs []retrieval.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + string(os.PathSeparator) + entry.Name()
		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable document", "path", path, "error", err)
			continue
		}
		docs = append(docs, retrieval.Document{
			ID:       entry.Name(),
			Content:  string(content),
			Metadata: map[string]string{"source": entry.Name()},
		})
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("no documents found in %s", dir)
	}

	if err := store.Ingest(context.Background(), kbID, docs); err != nil {
		return "", err
	}
	slog.Info("Indexed documents", "count", len(docs), "knowledge_base", kbID)
	return kbID, nil
}

// ============================================================================
// SERVE
// ============================================================================

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	llmFlags

	Host string `help:"Host to bind."`
	Port int    `help:"Port to listen on." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli, c.llmFlags)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	opts, cleanup, err := buildAgentOptions(cfg, c.DocsFolder)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(server.Options{
		DefaultAgentType: cfg.Agent.Type,
		AgentOptions:     opts,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return srv.ListenAndServe(addr)
}

// ============================================================================
// CHAT
// ============================================================================

// ChatCmd runs an agent interactively. With a message argument it answers
// once and exits; without, it starts a REPL sharing one thread.
type ChatCmd struct {
	llmFlags

	Message string `arg:"" optional:"" help:"One-shot message (omit for interactive mode)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli, c.llmFlags)
	if err != nil {
		return err
	}

	opts, cleanup, err := buildAgentOptions(cfg, c.DocsFolder)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := reasoning.NewRegistry()
	actx := agent.NewContext("", "")

	turn := func(message string) error {
		a, err := registry.Create(cfg.Agent.Type, opts)
		if err != nil {
			return err
		}
		run := agent.Execute(context.Background(), a, message, actx)
		printRun(run)
		return run.Err()
	}

	if c.Message != "" {
		return turn(c.Message)
	}

	fmt.Printf("agentex chat (%s via %s). Ctrl-D to exit.\n", cfg.Agent.Type, cfg.LLM.Provider)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if err := turn(message); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// printRun renders the event stream for a terminal: assistant text inline,
// tool calls as one-line notices.
func printRun(run *agent.Run) {
	inMessage := false
	for event := range run.Events() {
		switch ev := event.(type) {
		case *agui.TextMessageStartEvent:
			if !inMessage {
				fmt.Print("Agent: ")
				inMessage = true
			}
		case *agui.TextMessageContentEvent:
			fmt.Print(ev.Delta)
		case *agui.TextMessageEndEvent:
			fmt.Println()
			inMessage = false
		case *agui.ToolCallStartEvent:
			fmt.Printf("[tool: %s]\n", ev.ToolCallName)
		case *agui.RunErrorEvent:
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", ev.Code, ev.Message)
		}
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agentex"),
		kong.Description("Agent execution core with AG-UI event streaming."),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}

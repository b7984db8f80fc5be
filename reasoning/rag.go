package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/LunaDeerTech/Agentex/agent"
	"github.com/LunaDeerTech/Agentex/agui"
	"github.com/LunaDeerTech/Agentex/llms"
	"github.com/LunaDeerTech/Agentex/utils"
)

// ============================================================================
// RETRIEVAL TYPES
// ============================================================================

// RetrievedChunk is one scored document fragment.
type RetrievedChunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// RetrievalResult groups the chunks one knowledge base returned for a query.
type RetrievalResult struct {
	Query           string
	KnowledgeBaseID string
	Chunks          []RetrievedChunk
	TotalFound      int
}

// RetrievalFunc performs a search across knowledge bases.
type RetrievalFunc func(ctx context.Context, query string, knowledgeBaseIDs []string, topK int) ([]RetrievalResult, error)

// ============================================================================
// CONFIGURATION
// ============================================================================

// RAGConfig tunes the retrieval loop.
type RAGConfig struct {
	TopK                 int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`
	MaxRetrievalAttempts int     `yaml:"max_retrieval_attempts,omitempty" json:"max_retrieval_attempts,omitempty"`
	MaxContextTokens     int     `yaml:"max_context_tokens,omitempty" json:"max_context_tokens,omitempty"`
	IncludeSources       *bool   `yaml:"include_sources,omitempty" json:"include_sources,omitempty"`
	AlwaysRetrieve       bool    `yaml:"always_retrieve,omitempty" json:"always_retrieve,omitempty"`
}

// SetDefaults fills zero-valued fields.
func (c *RAGConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.MaxRetrievalAttempts == 0 {
		c.MaxRetrievalAttempts = 3
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 4000
	}
	if c.IncludeSources == nil {
		t := true
		c.IncludeSources = &t
	}
}

func (c *RAGConfig) includeSources() bool {
	return c.IncludeSources == nil || *c.IncludeSources
}

// ============================================================================
// AGENTIC RAG AGENT
// ============================================================================

const agenticRAGSystemPrompt = `You are a helpful AI assistant with access to a knowledge base.

Your task is to answer questions accurately using the provided context when relevant.

## Available Knowledge Bases
{knowledge_bases}

## Instructions

1. **Analyze the Question**: Determine if you need to retrieve information from the knowledge base.
   - Factual questions, specific details, or domain-specific queries -> RETRIEVE
   - General conversation, greetings, or common knowledge -> ANSWER DIRECTLY

2. **When Retrieving**:
   - Formulate a clear search query
   - Review the retrieved context carefully
   - If the context doesn't fully answer the question, you may retrieve again with a refined query

3. **When Answering**:
   - Base your answer on the retrieved context when available
   - Cite sources when using information from the knowledge base
   - Be honest if the knowledge base doesn't contain relevant information
   - Combine retrieved information with your general knowledge when appropriate

4. **Response Format**:
   When you need to retrieve, respond with:
   ` + "```json" + `
   {
       "action": "retrieve",
       "query": "your search query",
       "knowledge_base_ids": ["kb_id1", "kb_id2"]
   }
   ` + "```" + `

   When you're ready to answer, respond with:
   ` + "```json" + `
   {
       "action": "answer",
       "answer": "Your complete answer here",
       "sources": ["source1", "source2"]
   }
   ` + "```" + `

## Retrieved Context
{context}

## Conversation History
{history}
`

// AgenticRAGAgent decides per turn whether to retrieve from knowledge bases
// or answer, feeding retrieved context back into the next reasoning turn.
type AgenticRAGAgent struct {
	agent.Base

	ragConfig        RAGConfig
	knowledgeBaseIDs []string
	retrieve         RetrievalFunc
	tokens           *utils.TokenCounter
}

// NewAgenticRAGAgent creates an Agentic-RAG agent. A nil retrieval function
// degrades to mock results so the loop stays runnable.
func NewAgenticRAGAgent(provider llms.Provider, tools []agent.Tool, cfg agent.Config, ragCfg RAGConfig, knowledgeBaseIDs []string, retrieve RetrievalFunc) *AgenticRAGAgent {
	ragCfg.SetDefaults()
	return &AgenticRAGAgent{
		Base:             agent.NewBase(provider, tools, cfg),
		ragConfig:        ragCfg,
		knowledgeBaseIDs: knowledgeBaseIDs,
		retrieve:         retrieve,
		tokens:           utils.NewTokenCounter(),
	}
}

// Type returns "agentic_rag".
func (a *AgenticRAGAgent) Type() string { return "agentic_rag" }

type ragDecision struct {
	Action           string   `json:"action"`
	Query            string   `json:"query"`
	KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
	Answer           string   `json:"answer"`
	Sources          []string `json:"sources"`
}

func parseRAGDecision(content string) ragDecision {
	var d ragDecision
	if decodeDecision(content, &d) {
		if d.Action == "" {
			d.Action = "answer"
		}
		return d
	}
	return ragDecision{Action: "answer", Answer: content}
}

func (a *AgenticRAGAgent) buildSystemPrompt(actx *agent.Context, retrievedContext string) string {
	base := a.Config.SystemPrompt
	if base == "" {
		base = agenticRAGSystemPrompt
	}

	kbDesc := "No knowledge bases configured."
	if len(a.knowledgeBaseIDs) > 0 {
		lines := make([]string, 0, len(a.knowledgeBaseIDs))
		for _, id := range a.knowledgeBaseIDs {
			lines = append(lines, "- "+id)
		}
		kbDesc = strings.Join(lines, "\n")
	}

	if retrievedContext == "" {
		retrievedContext = "No context retrieved yet."
	}

	prompt := strings.ReplaceAll(base, "{knowledge_bases}", kbDesc)
	prompt = strings.ReplaceAll(prompt, "{context}", retrievedContext)
	return strings.ReplaceAll(prompt, "{history}", formatHistory(actx.RecentHistory(6), 6, 300))
}

// ============================================================================
// RETRIEVAL
// ============================================================================

func (a *AgenticRAGAgent) doRetrieve(ctx context.Context, query string, knowledgeBaseIDs []string) []RetrievalResult {
	if a.retrieve == nil {
		return []RetrievalResult{{
			Query:           query,
			KnowledgeBaseID: "mock",
			Chunks: []RetrievedChunk{{
				Content:  fmt.Sprintf("[Mock retrieval] No retrieval function configured. Query: %s", query),
				Metadata: map[string]any{"source": "mock"},
			}},
			TotalFound: 1,
		}}
	}

	if len(knowledgeBaseIDs) == 0 {
		knowledgeBaseIDs = a.knowledgeBaseIDs
	}

	results, err := a.retrieve(ctx, query, knowledgeBaseIDs, a.ragConfig.TopK)
	if err != nil {
		// Retrieval failures feed back into the loop as context, never as a
		// run failure.
		return []RetrievalResult{{
			Query:           query,
			KnowledgeBaseID: "error",
			Chunks: []RetrievedChunk{{
				Content:  "Retrieval error: " + err.Error(),
				Metadata: map[string]any{"source": "error"},
			}},
		}}
	}
	return results
}

func formatRetrievedContext(results []RetrievalResult) string {
	if len(results) == 0 {
		return "No relevant documents found."
	}

	var parts []string
	for _, result := range results {
		if len(result.Chunks) == 0 {
			continue
		}
		parts = append(parts,
			"### Results from: "+result.KnowledgeBaseID,
			"Query: "+result.Query,
			"")
		for i, chunk := range result.Chunks {
			source := "Unknown"
			if s, ok := chunk.Metadata["source"].(string); ok {
				source = s
			}
			parts = append(parts,
				fmt.Sprintf("[%d] (Score: %.2f, Source: %s)", i+1, chunk.Score, source),
				chunk.Content,
				"")
		}
	}
	if len(parts) == 0 {
		return "No relevant documents found."
	}
	return strings.Join(parts, "\n")
}

func countChunks(results []RetrievalResult) int {
	n := 0
	for _, r := range results {
		n += len(r.Chunks)
	}
	return n
}

// emitRetrieval surfaces one retrieval as a synthetic knowledge_retrieval
// tool call and returns the formatted context block.
func (a *AgenticRAGAgent) emitRetrieval(ctx context.Context, emit *agent.Emitter, query string, knowledgeBaseIDs []string, parentMessageID string) (string, error) {
	if err := emit.Emit(agui.NewStepStartedEvent("retrieval")); err != nil {
		return "", err
	}

	retrievalID := uuid.New().String()
	if err := emit.Emit(agui.NewToolCallStartEvent(retrievalID, "knowledge_retrieval", parentMessageID)); err != nil {
		return "", err
	}
	kbIDs := knowledgeBaseIDs
	if len(kbIDs) == 0 {
		kbIDs = a.knowledgeBaseIDs
	}
	args, _ := json.Marshal(map[string]any{"query": query, "knowledge_bases": kbIDs})
	if err := emit.Emit(agui.NewToolCallArgsEvent(retrievalID, string(args))); err != nil {
		return "", err
	}
	if err := emit.Emit(agui.NewToolCallEndEvent(retrievalID)); err != nil {
		return "", err
	}

	results := a.doRetrieve(ctx, query, knowledgeBaseIDs)
	block := formatRetrievedContext(results)

	if err := emit.Emit(agui.NewToolCallResultEvent(retrievalID,
		fmt.Sprintf("Retrieved %d documents", countChunks(results)))); err != nil {
		return "", err
	}
	if err := emit.Emit(agui.NewStepFinishedEvent("retrieval")); err != nil {
		return "", err
	}
	return block, nil
}

// ============================================================================
// PROCESS
// ============================================================================

// Process runs the retrieve-or-answer loop.
func (a *AgenticRAGAgent) Process(ctx context.Context, message string, actx *agent.Context, emit *agent.Emitter) error {
	actx.AddMessage(llms.Message{Role: llms.RoleUser, Content: message})

	retrievedContext := ""
	attempt := 0
	maxAttempts := a.ragConfig.MaxRetrievalAttempts

	if a.ragConfig.AlwaysRetrieve && len(a.knowledgeBaseIDs) > 0 {
		block, err := a.emitRetrieval(ctx, emit, message, a.knowledgeBaseIDs, "")
		if err != nil {
			return err
		}
		retrievedContext = block
		attempt++
	}

	for attempt <= maxAttempts {
		if actx.IsCancelled() {
			return agent.ErrRunCancelled
		}

		if err := emit.Emit(agui.NewStepStartedEvent("reasoning")); err != nil {
			return err
		}

		messages := append(
			[]llms.Message{{Role: llms.RoleSystem, Content: a.buildSystemPrompt(actx, a.capContext(retrievedContext))}},
			actx.History()...,
		)

		reasoningID := uuid.New().String()
		if err := emit.Emit(agui.NewTextMessageStartEvent(reasoningID, "assistant")); err != nil {
			return err
		}

		stream, err := a.Provider.ChatStream(ctx, messages, nil,
			llms.WithTemperature(a.Config.Temperature),
			llms.WithMaxTokens(a.Config.MaxTokens),
		)
		if err != nil {
			return err
		}

		content, err := collectStream(stream, func(text string) error {
			return emit.Emit(agui.NewTextMessageContentEvent(reasoningID, text))
		})
		if err != nil {
			return err
		}

		if err := emit.Emit(agui.NewTextMessageEndEvent(reasoningID)); err != nil {
			return err
		}
		if err := emit.Emit(agui.NewStepFinishedEvent("reasoning")); err != nil {
			return err
		}

		decision := parseRAGDecision(content)
		actx.AddMessage(llms.Message{Role: llms.RoleAssistant, Content: content})

		switch decision.Action {
		case "retrieve":
			attempt++
			if attempt > maxAttempts {
				break
			}

			query := decision.Query
			if query == "" {
				query = message
			}
			block, err := a.emitRetrieval(ctx, emit, query, decision.KnowledgeBaseIDs, reasoningID)
			if err != nil {
				return err
			}
			retrievedContext += "\n\n" + block
			actx.AddMessage(llms.Message{
				Role:    llms.RoleUser,
				Content: "Retrieved context:\n" + block,
			})
			continue

		case "answer":
			answer := decision.Answer
			if answer == "" {
				answer = content
			}
			if err := a.emitAnswer(emit, answer, decision.Sources); err != nil {
				return err
			}
			if retrievedContext != "" {
				return emit.Emit(agui.NewStateSnapshotEvent(map[string]any{
					"retrieved_documents":  attempt,
					"knowledge_bases_used": a.knowledgeBaseIDs,
				}))
			}
			return nil

		default:
			// Unknown action: surface the raw content as the answer.
			return a.emitAnswer(emit, content, nil)
		}

		break
	}

	// Retrieval budget exhausted: answer from what was found.
	fallback := "I've searched the knowledge base multiple times but couldn't find " +
		"a definitive answer. Based on what I found:\n\n"
	if history := actx.History(); len(history) > 0 {
		fallback += history[len(history)-1].Content
	}
	return a.emitAnswer(emit, fallback, nil)
}

func (a *AgenticRAGAgent) emitAnswer(emit *agent.Emitter, answer string, sources []string) error {
	if err := emit.Emit(agui.NewStepStartedEvent("final_answer")); err != nil {
		return err
	}
	messageID := uuid.New().String()
	if err := emit.Emit(agui.NewTextMessageStartEvent(messageID, "assistant")); err != nil {
		return err
	}
	if err := streamAnswer(emit, messageID, answer); err != nil {
		return err
	}

	if len(sources) > 0 && a.ragConfig.includeSources() {
		var b strings.Builder
		b.WriteString("\n\n---\n**Sources:**\n")
		for i, src := range sources {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + src)
		}
		if err := streamAnswer(emit, messageID, b.String()); err != nil {
			return err
		}
	}

	if err := emit.Emit(agui.NewTextMessageEndEvent(messageID)); err != nil {
		return err
	}
	return emit.Emit(agui.NewStepFinishedEvent("final_answer"))
}

// capContext trims the retrieved context block to the configured token
// budget so the prompt stays within bounds.
func (a *AgenticRAGAgent) capContext(block string) string {
	if block == "" {
		return block
	}
	return a.tokens.Truncate(block, a.ragConfig.MaxContextTokens)
}

// Package retrieval provides an embedded vector store for the Agentic-RAG
// variant. Each knowledge base maps to one chromem collection.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/LunaDeerTech/Agentex/reasoning"
)

// Document is one ingestable unit of content.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Config configures the store.
type Config struct {
	// PersistPath enables file persistence when set. The directory is
	// created if missing; empty keeps everything in memory.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress gzips the persisted database.
	Compress bool `yaml:"compress,omitempty"`

	// MinScore drops results below this similarity.
	MinScore float64 `yaml:"min_score,omitempty"`
}

// Store is an embedded vector store backed by chromem-go. Vectors live in
// memory with optional file persistence; single-process only.
type Store struct {
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	persistPath string
	compress    bool
	minScore    float64

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewStore creates a store. A nil embedding function falls back to chromem's
// default, which calls the OpenAI embeddings API using OPENAI_API_KEY.
func NewStore(cfg Config, embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		embed = chromem.NewEmbeddingFuncDefault()
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := dbFile(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("Loaded vector database from file", "path", dbPath)
				db = loaded
			}
		} else {
			db = chromem.NewDB()
			slog.Info("Created new vector database", "path", dbPath)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Store{
		db:          db,
		embed:       embed,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		minScore:    cfg.MinScore,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func dbFile(dir string, compress bool) string {
	path := filepath.Join(dir, "vectors.gob")
	if compress {
		path += ".gz"
	}
	return path
}

func (s *Store) getCollection(knowledgeBaseID string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[knowledgeBaseID]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[knowledgeBaseID]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(knowledgeBaseID, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", knowledgeBaseID, err)
	}
	s.collections[knowledgeBaseID] = col
	return col, nil
}

// lookupCollection resolves a base without creating it, picking up
// collections loaded from a persisted database.
func (s *Store) lookupCollection(knowledgeBaseID string) *chromem.Collection {
	s.mu.RLock()
	if col, ok := s.collections[knowledgeBaseID]; ok {
		s.mu.RUnlock()
		return col
	}
	s.mu.RUnlock()

	col := s.db.GetCollection(knowledgeBaseID, s.embed)
	if col == nil {
		return nil
	}

	s.mu.Lock()
	s.collections[knowledgeBaseID] = col
	s.mu.Unlock()
	return col
}

// Ingest adds documents to a knowledge base. Documents without an ID get one.
func (s *Store) Ingest(ctx context.Context, knowledgeBaseID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	col, err := s.getCollection(knowledgeBaseID)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:       id,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to ingest documents: %w", err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after ingest", "error", err)
	}
	return nil
}

// Retrieve searches the given knowledge bases and returns one result group
// per base. Its signature matches reasoning.RetrievalFunc so a store method
// value plugs straight into the Agentic-RAG variant.
func (s *Store) Retrieve(ctx context.Context, query string, knowledgeBaseIDs []string, topK int) ([]reasoning.RetrievalResult, error) {
	if topK <= 0 {
		topK = 5
	}

	results := make([]reasoning.RetrievalResult, 0, len(knowledgeBaseIDs))
	for _, kbID := range knowledgeBaseIDs {
		col := s.lookupCollection(kbID)
		if col == nil {
			// Unknown base: skip rather than fail the whole retrieval.
			continue
		}

		n := topK
		if count := col.Count(); count < n {
			n = count
		}
		if n == 0 {
			results = append(results, reasoning.RetrievalResult{
				Query:           query,
				KnowledgeBaseID: kbID,
			})
			continue
		}

		hits, err := col.Query(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("search in %q failed: %w", kbID, err)
		}

		chunks := make([]reasoning.RetrievedChunk, 0, len(hits))
		for _, hit := range hits {
			score := float64(hit.Similarity)
			if score < s.minScore {
				continue
			}
			metadata := make(map[string]any, len(hit.Metadata))
			for k, v := range hit.Metadata {
				metadata[k] = v
			}
			chunks = append(chunks, reasoning.RetrievedChunk{
				Content:  hit.Content,
				Metadata: metadata,
				Score:    score,
			})
		}

		results = append(results, reasoning.RetrievalResult{
			Query:           query,
			KnowledgeBaseID: kbID,
			Chunks:          chunks,
			TotalFound:      len(chunks),
		})
	}
	return results, nil
}

// KnowledgeBases returns the known base IDs, including ones loaded from a
// persisted database.
func (s *Store) KnowledgeBases() []string {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names
}

// DeleteKnowledgeBase removes a base and all its documents.
func (s *Store) DeleteKnowledgeBase(knowledgeBaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(knowledgeBaseID); err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	delete(s.collections, knowledgeBaseID)

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after delete", "error", err)
	}
	return nil
}

// Close persists the database when persistence is enabled.
func (s *Store) Close() error {
	return s.persist()
}

func (s *Store) persist() error {
	if s.persistPath == "" {
		return nil
	}
	//nolint:staticcheck // Using deprecated function for compatibility
	if err := s.db.Export(dbFile(s.persistPath, s.compress), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

// Interface check against the variant's retrieval hook.
var _ reasoning.RetrievalFunc = (*Store)(nil).Retrieve

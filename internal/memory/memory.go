// Package memory persists summaries of completed analyses in a chromem
// vector store so later decisions over similar endpoints can recall what
// was found and fixed before.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"apiguardian/types"
)

const collectionName = "analyses"

// Store is the decision memory. It satisfies the decision engine's recall
// interface and records every finished report.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

// New opens a persistent store at path, or an in-memory one when path is
// empty.
func New(path string) (*Store, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create decision memory directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open decision memory: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, localEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s collection: %w", collectionName, err)
	}

	return &Store{db: db, collection: collection}, nil
}

// Record stores a one-document summary of a finished report.
func (s *Store) Record(ctx context.Context, endpoint types.EndpointDescriptor, report *types.ExecutionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := summarize(endpoint, report)
	reportJSON, _ := json.Marshal(report)
	doc := chromem.Document{
		ID:      fmt.Sprintf("%s-%d", report.PlanID, time.Now().UnixNano()),
		Content: summary,
		Metadata: map[string]string{
			"endpoint":      endpoint.ID,
			"method":        endpoint.Method,
			"path":          endpoint.Path,
			"industry":      endpoint.Industry,
			"plan_source":   string(report.PlanSource),
			"fixes_applied": fmt.Sprintf("%d", report.FixesApplied),
			"report":        string(reportJSON),
		},
	}

	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to store analysis summary: %w", err)
	}
	return nil
}

// SimilarAnalyses returns up to n prior-analysis summaries resembling the
// endpoint. Errors degrade to an empty result; recall is advisory only.
func (s *Store) SimilarAnalyses(ctx context.Context, endpoint types.EndpointDescriptor, n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if count := s.collection.Count(); count < n {
		if count == 0 {
			return nil
		}
		n = count
	}

	results, err := s.collection.Query(ctx, describeEndpoint(endpoint), n, nil, nil)
	if err != nil {
		log.Printf("⚠️ Decision memory query failed: %v", err)
		return nil
	}

	summaries := make([]string, 0, len(results))
	for _, res := range results {
		summaries = append(summaries, res.Content)
	}
	return summaries
}

// Count reports the number of stored analyses.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

func summarize(endpoint types.EndpointDescriptor, report *types.ExecutionReport) string {
	var ruleIDs []string
	for _, f := range report.Findings {
		ruleIDs = append(ruleIDs, f.RuleID)
	}
	return fmt.Sprintf(
		"Analysis of %s: %d vulnerabilities (%s), %d fixes applied, plan source %s.",
		describeEndpoint(endpoint),
		report.VulnerabilitiesFound,
		strings.Join(ruleIDs, ", "),
		report.FixesApplied,
		report.PlanSource,
	)
}

func describeEndpoint(endpoint types.EndpointDescriptor) string {
	industry := endpoint.Industry
	if industry == "" {
		industry = "general"
	}
	return fmt.Sprintf("%s %s (%s industry)", endpoint.Method, endpoint.Path, industry)
}

// localEmbedding is a deterministic character-frequency embedding. It keeps
// the store functional without network access; similarity quality is rough
// but adequate for recalling same-shaped endpoints.
func localEmbedding(_ context.Context, text string) ([]float32, error) {
	const dim = 128

	embedding := make([]float32, dim)
	embedding[0] = float32(len(text)) / 1000.0
	for _, char := range strings.ToLower(text) {
		embedding[1+int(char)%(dim-1)]++
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}
	return embedding, nil
}

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// SQLVectorStore keeps chunks and their embeddings in the relay database
// and ranks them by cosine similarity in process. It suits knowledge bases
// of a few thousand chunks; larger ones belong in Milvus.
type SQLVectorStore struct {
	db *gorm.DB
}

// NewSQLVectorStore creates a SQLVectorStore.
func NewSQLVectorStore(db *gorm.DB) (*SQLVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("knowledge: sql store: db is required")
	}
	return &SQLVectorStore{db: db}, nil
}

func (s *SQLVectorStore) ReplaceSource(ctx context.Context, sourceID string, chunks []Chunk) error {
	rows := make([]models.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("knowledge: encode embedding: %w", err)
		}
		tags, err := json.Marshal(nonNil(c.Metadata.Tags))
		if err != nil {
			return fmt.Errorf("knowledge: encode tags: %w", err)
		}
		rows = append(rows, models.KnowledgeChunk{
			ID:          c.ID,
			SourceID:    sourceID,
			TenantID:    c.TenantID,
			SourceType:  c.SourceType,
			Text:        c.Text,
			Embedding:   string(emb),
			Title:       c.Metadata.Title,
			URL:         c.Metadata.URL,
			Category:    c.Metadata.Category,
			Tags:        string(tags),
			ChunkIndex:  c.Metadata.ChunkIndex,
			TotalChunks: c.Metadata.TotalChunks,
			CreatedAt:   c.CreatedAt,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", sourceID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return fmt.Errorf("knowledge: replace source %s: %w", sourceID, err)
	}
	return nil
}

func (s *SQLVectorStore) DeleteSource(ctx context.Context, sourceID string) error {
	if err := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
		return fmt.Errorf("knowledge: delete source %s: %w", sourceID, err)
	}
	return nil
}

func (s *SQLVectorStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error) {
	q := s.db.WithContext(ctx).Model(&models.KnowledgeChunk{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.SourceID != "" {
		q = q.Where("source_id = ?", filter.SourceID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	var rows []models.KnowledgeChunk
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		var emb []float32
		if err := json.Unmarshal([]byte(r.Embedding), &emb); err != nil || len(emb) == 0 {
			continue
		}
		results = append(results, Result{
			ChunkID: r.ID,
			Text:    r.Text,
			Source:  sourceOf(Metadata{URL: r.URL, Title: r.Title}),
			Title:   r.Title,
			Score:   Cosine(vector, emb),
		})
	}
	return rank(results, topK), nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero, or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

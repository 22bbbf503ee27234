package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

// Milvus field names.
const (
	fieldChunkID   = "chunk_id"
	fieldSourceID  = "source_id"
	fieldTenantID  = "tenant_id"
	fieldCategory  = "category"
	fieldText      = "text"
	fieldMeta      = "meta"
	fieldEmbedding = "embedding"
)

// MilvusOpts configures a MilvusStore.
type MilvusOpts struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// MilvusStore keeps chunks in a Milvus collection.
type MilvusStore struct {
	client     *milvusclient.Client
	collection string
	dim        int
}

// NewMilvusStore connects to Milvus and makes sure the collection exists.
func NewMilvusStore(ctx context.Context, opts MilvusOpts) (*MilvusStore, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("knowledge: milvus: address is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("knowledge: milvus: collection is required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("knowledge: milvus: dimension is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(cctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: milvus: connect %s: %w", opts.Address, err)
	}
	s := &MilvusStore{client: c, collection: opts.Collection, dim: opts.Dimension}
	if err := s.ensureCollection(cctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("knowledge: milvus: check collection: %w", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(s.collection).
			WithDescription("switchyard knowledge chunks").
			WithField(entity.NewField().WithName(fieldChunkID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldSourceID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldTenantID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
			WithField(entity.NewField().WithName(fieldCategory).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
			WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName(fieldMeta).WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192)).
			WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema)); err != nil {
			return fmt.Errorf("knowledge: milvus: create collection: %w", err)
		}
		idx := index.NewIvfFlatIndex(entity.COSINE, 128)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, fieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("knowledge: milvus: create index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("knowledge: milvus: await index: %w", err)
		}
	}
	load, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("knowledge: milvus: load collection: %w", err)
	}
	if err := load.Await(ctx); err != nil {
		return fmt.Errorf("knowledge: milvus: await load: %w", err)
	}
	return nil
}

func (s *MilvusStore) ReplaceSource(ctx context.Context, sourceID string, chunks []Chunk) error {
	if err := s.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	n := len(chunks)
	ids, sources, tenants, cats, texts, metas := make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
	vectors := make([][]float32, n)
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("knowledge: milvus: chunk %s has dimension %d, want %d", c.ID, len(c.Embedding), s.dim)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("knowledge: milvus: encode metadata: %w", err)
		}
		ids[i], sources[i], tenants[i], cats[i], texts[i], metas[i] = c.ID, sourceID, c.TenantID, c.Metadata.Category, c.Text, string(meta)
		vectors[i] = c.Embedding
	}

	_, err := s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(fieldChunkID, ids),
		column.NewColumnVarChar(fieldSourceID, sources),
		column.NewColumnVarChar(fieldTenantID, tenants),
		column.NewColumnVarChar(fieldCategory, cats),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnVarChar(fieldMeta, metas),
		column.NewColumnFloatVector(fieldEmbedding, s.dim, vectors),
	))
	if err != nil {
		return fmt.Errorf("knowledge: milvus: insert: %w", err)
	}
	flush, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.collection))
	if err != nil {
		return fmt.Errorf("knowledge: milvus: flush: %w", err)
	}
	if err := flush.Await(ctx); err != nil {
		return fmt.Errorf("knowledge: milvus: await flush: %w", err)
	}
	return nil
}

func (s *MilvusStore) DeleteSource(ctx context.Context, sourceID string) error {
	expr := fieldSourceID + " == " + strconv.Quote(sourceID)
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(expr)); err != nil {
		return fmt.Errorf("knowledge: milvus: delete source %s: %w", sourceID, err)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	opt := milvusclient.NewSearchOption(s.collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(fieldChunkID, fieldText, fieldMeta)
	if expr := FilterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}
	rs, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("knowledge: milvus: search: %w", err)
	}
	if len(rs) == 0 {
		return nil, nil
	}

	set := rs[0]
	out := make([]Result, 0, set.ResultCount)
	for i := 0; i < set.ResultCount; i++ {
		r := Result{Score: float64(set.Scores[i])}
		var meta Metadata
		for _, f := range set.Fields {
			col, ok := f.(*column.ColumnVarChar)
			if !ok {
				continue
			}
			switch col.Name() {
			case fieldChunkID:
				r.ChunkID = col.Data()[i]
			case fieldText:
				r.Text = col.Data()[i]
			case fieldMeta:
				_ = json.Unmarshal([]byte(col.Data()[i]), &meta)
			}
		}
		r.Title = meta.Title
		r.Source = sourceOf(meta)
		out = append(out, r)
	}
	return rank(out, topK), nil
}

// Close releases the Milvus connection.
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// FilterExpr renders f as a Milvus boolean expression.
func FilterExpr(f Filter) string {
	var parts []string
	if f.TenantID != "" {
		parts = append(parts, fieldTenantID+" == "+strconv.Quote(f.TenantID))
	}
	if f.SourceID != "" {
		parts = append(parts, fieldSourceID+" == "+strconv.Quote(f.SourceID))
	}
	if f.Category != "" {
		parts = append(parts, fieldCategory+" == "+strconv.Quote(f.Category))
	}
	return strings.Join(parts, " && ")
}

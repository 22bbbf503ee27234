package models

import "time"

// Source types.
const (
	SourceWebsite  = "website"
	SourceDocument = "document"
)

// KnowledgeChunk is one embedded unit of indexed content. Chunks are
// immutable and replaced as a set when their source is re-indexed.
type KnowledgeChunk struct {
	ID          string `gorm:"primaryKey;size:64"`
	SourceID    string `gorm:"size:36;not null;index"`
	TenantID    string `gorm:"size:128;index"`
	SourceType  string `gorm:"size:16;not null"`
	Text        string `gorm:"type:mediumtext;not null"`
	Embedding   string `gorm:"type:mediumtext"` // JSON array of float32
	Title       string `gorm:"size:512"`
	URL         string `gorm:"size:2048"`
	Category    string `gorm:"size:128;index"`
	Tags        string `gorm:"type:json"` // JSON array of strings
	ChunkIndex  int
	TotalChunks int
	CreatedAt   time.Time
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/models"
)

// ConversationStore appends conversation turns and reads recent history.
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(db *gorm.DB) (*ConversationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("relay: conversation store: db is required")
	}
	return &ConversationStore{db: db}, nil
}

// ConversationID names the conversation between a tenant and a contact.
func ConversationID(tenantID, contact string) string {
	return tenantID + ":" + contact
}

// Append stores turn with the next sequence number of its conversation.
// Callers serialize appends per conversation.
func (cs *ConversationStore) Append(ctx context.Context, turn *models.ConversationTurn) error {
	if turn.ConversationID == "" {
		turn.ConversationID = ConversationID(turn.TenantID, turn.ContactAddress)
	}
	if turn.RetrievedContext == "" {
		turn.RetrievedContext = "[]"
	}
	err := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, turn.ConversationID)
		if err != nil {
			return err
		}
		turn.Sequence = seq
		return tx.Create(turn).Error
	})
	if err != nil {
		return fmt.Errorf("relay: append turn: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest turns, oldest first.
func (cs *ConversationStore) Recent(ctx context.Context, conversationID string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	var turns []models.ConversationTurn
	if err := cs.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("sequence DESC").Limit(n).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("relay: recent turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// History returns every turn of a conversation in sequence order.
func (cs *ConversationStore) History(ctx context.Context, conversationID string) ([]models.ConversationTurn, error) {
	var turns []models.ConversationTurn
	if err := cs.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("sequence").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("relay: history: %w", err)
	}
	return turns, nil
}

// nextSequence returns the next sequence number for a conversation.
func nextSequence(tx *gorm.DB, conversationID string) (int, error) {
	var maxSeq int
	result := tx.Model(&models.ConversationTurn{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq)
	if result.Error != nil {
		return 0, fmt.Errorf("next sequence: %w", result.Error)
	}
	return maxSeq + 1, nil
}

type contextRef struct {
	ChunkID string  `json:"chunk_id,omitempty"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score"`
}

// encodeContext renders retrieved results as the JSON stored on a turn.
func encodeContext(results []knowledge.Result) string {
	refs := make([]contextRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, contextRef{ChunkID: r.ChunkID, Source: r.Source, Score: r.Score})
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// annotate records the retrieval and policy outcome on a stored turn.
func (cs *ConversationStore) annotate(ctx context.Context, turnID uint, decision, retrieved string) {
	if turnID == 0 {
		return
	}
	cs.db.WithContext(ctx).Model(&models.ConversationTurn{}).
		Where("id = ?", turnID).
		Updates(map[string]interface{}{
			"handoff_decision":  decision,
			"retrieved_context": retrieved,
		})
}

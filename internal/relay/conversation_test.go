package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/models"
)

func TestNewConversationStore_RequiresDB(t *testing.T) {
	if _, err := NewConversationStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestConversationStore_AppendSequences(t *testing.T) {
	cs, _ := NewConversationStore(openRelayTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		turn := &models.ConversationTurn{
			TenantID:       "loc_1",
			ContactAddress: "+15551234567",
			Direction:      models.DirectionInbound,
			Origin:         models.OriginContact,
			Text:           "msg",
		}
		if err := cs.Append(ctx, turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if turn.Sequence != i+1 {
			t.Errorf("Sequence = %d, want %d", turn.Sequence, i+1)
		}
		if turn.ConversationID != "loc_1:+15551234567" {
			t.Errorf("ConversationID = %q", turn.ConversationID)
		}
	}

	// Another conversation starts its own sequence.
	other := &models.ConversationTurn{TenantID: "loc_1", ContactAddress: "+15559999999", Direction: models.DirectionInbound, Origin: models.OriginContact, Text: "x"}
	cs.Append(ctx, other)
	if other.Sequence != 1 {
		t.Errorf("other Sequence = %d, want 1", other.Sequence)
	}
}

func TestConversationStore_Recent(t *testing.T) {
	cs, _ := NewConversationStore(openRelayTestDB(t))
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d"} {
		cs.Append(ctx, &models.ConversationTurn{TenantID: "t", ContactAddress: "+1", Direction: models.DirectionInbound, Origin: models.OriginContact, Text: text})
	}

	turns, err := cs.Recent(ctx, ConversationID("t", "+1"), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "c" || turns[1].Text != "d" {
		t.Errorf("Recent = %+v, want c,d", turns)
	}

	if turns, _ := cs.Recent(ctx, ConversationID("t", "+1"), 0); turns != nil {
		t.Errorf("Recent(0) = %v, want nil", turns)
	}
}

func TestEncodeContext(t *testing.T) {
	if got := encodeContext(nil); got != "[]" {
		t.Errorf("encodeContext(nil) = %q, want []", got)
	}
	got := encodeContext([]knowledge.Result{{ChunkID: "src-0001", Source: "https://x.test", Score: 0.5, Text: "body"}})
	var refs []map[string]interface{}
	if err := json.Unmarshal([]byte(got), &refs); err != nil {
		t.Fatalf("invalid JSON %q: %v", got, err)
	}
	if len(refs) != 1 || refs[0]["chunk_id"] != "src-0001" {
		t.Errorf("refs = %v", refs)
	}
	if _, ok := refs[0]["text"]; ok {
		t.Error("chunk text should not be stored on the turn")
	}
}

package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	if got := f.Type.String(); got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestTenantCredential_Fields(t *testing.T) {
	typ := reflect.TypeOf(TenantCredential{})

	assertGormTag(t, typ, "TenantID", "primaryKey")
	assertGormTag(t, typ, "AccessToken", "not null")
	assertGormTag(t, typ, "RefreshToken", "type:text")
	assertFieldType(t, typ, "Expiry", "time.Time")
}

func TestConversationTurn_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationTurn{})

	assertGormTag(t, typ, "ConversationID", "index:idx_conv_seq")
	assertGormTag(t, typ, "Sequence", "index:idx_conv_seq")
	assertGormTag(t, typ, "Text", "not null")
	assertGormTag(t, typ, "RetrievedContext", "type:json")
	assertGormTag(t, typ, "EventID", "index")
	assertFieldType(t, typ, "Sequence", "int")
}

func TestHandoffCase_Fields(t *testing.T) {
	typ := reflect.TypeOf(HandoffCase{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:26")
	assertGormTag(t, typ, "Status", "default:open")
	assertGormTag(t, typ, "ContactAddress", "idx_case_contact")
	assertFieldType(t, typ, "ResolvedAt", "*time.Time")
}

func TestGateModels_Fields(t *testing.T) {
	pe := reflect.TypeOf(ProcessedEvent{})
	assertGormTag(t, pe, "EventID", "primaryKey")
	assertGormTag(t, pe, "ExpiresAt", "index")

	ct := reflect.TypeOf(ContactThrottle{})
	assertGormTag(t, ct, "Address", "primaryKey")
	assertGormTag(t, ct, "DayBucket", "size:10")
	assertFieldType(t, ct, "CountInBucket", "int")
}

func TestKnowledgeChunk_Fields(t *testing.T) {
	typ := reflect.TypeOf(KnowledgeChunk{})

	assertGormTag(t, typ, "SourceID", "index")
	assertGormTag(t, typ, "Text", "not null")
	assertGormTag(t, typ, "Embedding", "mediumtext")
	assertFieldType(t, typ, "ChunkIndex", "int")
	assertFieldType(t, typ, "TotalChunks", "int")
}

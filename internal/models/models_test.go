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

func TestCallSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(CallSession{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Status", "not null")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "NeedsReview", "index")
	assertGormTag(t, typ, "Version", "not null")

	assertFieldType(t, typ, "ConsentRecording", "*bool")
	assertFieldType(t, typ, "ConsentSMSOptIn", "*bool")
	assertFieldType(t, typ, "HandoffReason", "*string")
	assertFieldType(t, typ, "EndedAt", "*time.Time")
	assertFieldType(t, typ, "StartedAt", "time.Time")
}

func TestLifecycleEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(LifecycleEvent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "CallID", "index")
	assertGormTag(t, typ, "DedupKey", "uniqueIndex")
	assertGormTag(t, typ, "Metadata", "type:json")

	assertFieldType(t, typ, "DedupKey", "*string")
	assertFieldType(t, typ, "Metadata", "datatypes.JSON")
}

func TestIdempotencyRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(IdempotencyRecord{})

	assertGormTag(t, typ, "Key", "primaryKey")
	assertGormTag(t, typ, "ExpiresAt", "index")
	assertGormTag(t, typ, "Result", "type:text")
	assertFieldType(t, typ, "Attempts", "int")
}

func TestRateLimitCounter_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(RateLimitCounter{})
	for _, f := range []string{"Identifier", "IdentifierType", "Endpoint", "WindowStartMs"} {
		assertGormTag(t, typ, f, "primaryKey")
	}
	assertGormTag(t, typ, "WindowStartMs", "autoIncrement:false")
	assertFieldType(t, typ, "WindowStartMs", "int64")
}

func TestSuppression_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(Suppression{})
	assertGormTag(t, typ, "Phone", "primaryKey")
	assertGormTag(t, typ, "Channel", "primaryKey")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "Channel", "not null")
	assertGormTag(t, typ, "Body", "type:text")
}

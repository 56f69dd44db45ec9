package models

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
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
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestWorkspace_Fields(t *testing.T) {
	typ := reflect.TypeOf(Workspace{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "SlackTeamID", "uniqueIndex")
	assertGormTag(t, typ, "SlackTeamID", "not null")
	assertGormTag(t, typ, "Name", "not null")

	assertFieldType(t, typ, "ID", "string")
	assertFieldType(t, typ, "NotionWorkspaceID", "*string")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestOAuthToken_Fields(t *testing.T) {
	typ := reflect.TypeOf(OAuthToken{})

	assertGormTag(t, typ, "WorkspaceID", "uniqueIndex:idx_oauth_workspace_provider")
	assertGormTag(t, typ, "Provider", "uniqueIndex:idx_oauth_workspace_provider")
	assertGormTag(t, typ, "AccessTokenEncrypted", "not null")
	assertGormTag(t, typ, "Workspace", "OnDelete:CASCADE")

	assertFieldType(t, typ, "Provider", "models.Provider")
	assertFieldType(t, typ, "RefreshTokenEncrypted", "*string")
	assertFieldType(t, typ, "ExpiresAt", "*time.Time")
	assertFieldType(t, typ, "Scopes", "datatypes.JSON")
	assertFieldType(t, typ, "Metadata", "datatypes.JSON")
	assertFieldType(t, typ, "Workspace", "*models.Workspace")

	if got := (OAuthToken{}).TableName(); got != "oauth_tokens" {
		t.Errorf("TableName() = %q, want oauth_tokens", got)
	}
}

func TestMinnoSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(MinnoSession{})

	assertGormTag(t, typ, "WorkspaceID", "index")
	assertGormTag(t, typ, "ChannelID", "uniqueIndex:idx_session_thread")
	assertGormTag(t, typ, "ThreadID", "uniqueIndex:idx_session_thread")
	assertGormTag(t, typ, "Status", "default:active")
	assertGormTag(t, typ, "Workspace", "OnDelete:CASCADE")

	assertFieldType(t, typ, "NotionTaskID", "*string")
	assertFieldType(t, typ, "NotionProjectID", "*string")
	assertFieldType(t, typ, "Context", "datatypes.JSON")
	assertFieldType(t, typ, "Status", "models.SessionStatus")
}

func TestConversationMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationMessage{})

	assertGormTag(t, typ, "SessionID", "idx_message_session_created")
	assertGormTag(t, typ, "CreatedAt", "idx_message_session_created")
	assertGormTag(t, typ, "Content", "type:text")
	assertGormTag(t, typ, "SlackMessageTS", "column:slack_message_ts")
	assertGormTag(t, typ, "SessionID", "uniqueIndex:idx_message_session_slack_ts,priority:1")
	assertGormTag(t, typ, "SlackMessageTS", "uniqueIndex:idx_message_session_slack_ts,priority:2")
	assertGormTag(t, typ, "Session", "foreignKey:SessionID")
	assertGormTag(t, typ, "Session", "OnDelete:CASCADE")

	assertFieldType(t, typ, "Role", "models.MessageRole")
	assertFieldType(t, typ, "SlackMessageTS", "*string")
	assertFieldType(t, typ, "Session", "*models.MinnoSession")
}

func TestFailedEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(FailedEvent{})

	assertGormTag(t, typ, "EventID", "index")
	assertGormTag(t, typ, "Kind", "not null")
	assertGormTag(t, typ, "Attempts", "default:1")

	assertFieldType(t, typ, "Payload", "datatypes.JSON")
	assertFieldType(t, typ, "ResolvedAt", "*time.Time")
}

func TestSchemaMigration_Fields(t *testing.T) {
	typ := reflect.TypeOf(SchemaMigration{})

	assertGormTag(t, typ, "Name", "primaryKey")
	assertFieldType(t, typ, "AppliedAt", "time.Time")
}

func TestEnums_Valid(t *testing.T) {
	for _, s := range []SessionStatus{SessionActive, SessionCompleted, SessionFailed, SessionArchived} {
		if !s.Valid() {
			t.Errorf("SessionStatus(%q).Valid() = false", s)
		}
	}
	if SessionStatus("paused").Valid() {
		t.Error("SessionStatus(paused).Valid() = true")
	}

	for _, r := range []MessageRole{RoleUser, RoleAssistant, RoleTool, RoleSystem} {
		if !r.Valid() {
			t.Errorf("MessageRole(%q).Valid() = false", r)
		}
	}
	if MessageRole("bot").Valid() {
		t.Error("MessageRole(bot).Valid() = true")
	}

	if !ProviderSlack.Valid() || !ProviderNotion.Valid() {
		t.Error("known providers should be valid")
	}
	if Provider("github").Valid() {
		t.Error("Provider(github).Valid() = true")
	}

	if !KindEvent.Valid() || !KindInteraction.Valid() {
		t.Error("known kinds should be valid")
	}
}

func TestAfterFind_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		hook  func() error
		field string
	}{
		{"session status", func() error { return (&MinnoSession{Status: "paused"}).AfterFind(nil) }, "status"},
		{"message role", func() error { return (&ConversationMessage{Role: "bot"}).AfterFind(nil) }, "role"},
		{"token provider", func() error { return (&OAuthToken{Provider: "github"}).AfterFind(nil) }, "provider"},
		{"failed event kind", func() error { return (&FailedEvent{Kind: "webhook"}).AfterFind(nil) }, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hook()
			var invalid *InvalidValueError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want *InvalidValueError", err)
			}
			if invalid.Column != tt.field {
				t.Errorf("Column = %q, want %q", invalid.Column, tt.field)
			}
		})
	}

	if err := (&MinnoSession{Status: SessionActive}).AfterFind(nil); err != nil {
		t.Errorf("valid session: %v", err)
	}
}

func TestBeforeCreate_AssignsID(t *testing.T) {
	ws := &Workspace{}
	if err := ws.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	id, err := uuid.Parse(ws.ID)
	if err != nil {
		t.Fatalf("ID %q is not a uuid: %v", ws.ID, err)
	}
	if id.Version() != 7 {
		t.Errorf("uuid version = %d, want 7", id.Version())
	}

	ws = &Workspace{ID: "fixed"}
	if err := ws.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if ws.ID != "fixed" {
		t.Errorf("ID = %q, want existing id kept", ws.ID)
	}

	sess := &MinnoSession{}
	if err := sess.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate: %v", err)
	}
	if sess.Status != SessionActive {
		t.Errorf("Status = %q, want active", sess.Status)
	}
}

func TestNewID_Ordered(t *testing.T) {
	a, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("NewID returned duplicate ids")
	}
	if a > b {
		t.Errorf("ids not time ordered: %s > %s", a, b)
	}
}

package models

import "fmt"

// SessionStatus is the lifecycle state of a MinnoSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionArchived  SessionStatus = "archived"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionFailed, SessionArchived:
		return true
	}
	return false
}

// MessageRole identifies who authored a ConversationMessage.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known message role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// Provider names an OAuth credential issuer.
type Provider string

const (
	ProviderSlack  Provider = "slack"
	ProviderNotion Provider = "notion"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderSlack || p == ProviderNotion
}

// FailedEventKind distinguishes dead-lettered Events API callbacks from
// interactivity payloads.
type FailedEventKind string

const (
	KindEvent       FailedEventKind = "event"
	KindInteraction FailedEventKind = "interaction"
)

// Valid reports whether k is a known failed event kind.
func (k FailedEventKind) Valid() bool {
	return k == KindEvent || k == KindInteraction
}

// InvalidValueError is returned when a row holds a value outside its
// column's enumeration.
type InvalidValueError struct {
	Table  string
	Column string
	Value  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("models: %s.%s has unknown value %q", e.Table, e.Column, e.Value)
}

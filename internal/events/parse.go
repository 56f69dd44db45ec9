package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a malformed inbound payload.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "events: invalid payload: " + e.Reason
	}
	return fmt.Sprintf("events: invalid payload: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParsePayload parses a request body from POST /slack/events and returns
// the payload matching its outer type.
func ParsePayload(raw []byte) (Payload, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, decodeError(err)
	}

	switch head.Type {
	case TypeURLVerification:
		var p URLVerification
		if err := decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypeAppRateLimited:
		var p AppRateLimited
		if err := decodeAndValidate(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypeEventCallback:
		return ParseEnvelope(raw)
	case "":
		return nil, &ValidationError{Field: "type", Reason: "required"}
	}
	return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported payload type %q", head.Type)}
}

// ParseEnvelope parses and validates an event_callback envelope including
// its inner event. An inner event of unknown type is an error.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := decodeAndValidate(raw, &env); err != nil {
		return nil, err
	}
	if env.Type != TypeEventCallback {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("want %q, got %q", TypeEventCallback, env.Type)}
	}
	ev, err := parseInner(env.RawEvent)
	if err != nil {
		return nil, err
	}
	env.Event = ev
	return &env, nil
}

func parseInner(raw json.RawMessage) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, prefixField("event", decodeError(err))
	}

	var ev Event
	switch head.Type {
	case TypeAppMention:
		ev = &AppMentionEvent{}
	case TypeMessage:
		ev = &MessageEvent{}
	case TypeReactionAdded:
		ev = &ReactionAddedEvent{}
	case "":
		return nil, &ValidationError{Field: "event.type", Reason: "required"}
	default:
		return nil, &ValidationError{Field: "event.type", Reason: fmt.Sprintf("unsupported event type %q", head.Type)}
	}
	if err := decodeAndValidate(raw, ev); err != nil {
		return nil, prefixField("event", err)
	}
	return ev, nil
}

// ExtractEvent returns the envelope's inner event.
func ExtractEvent(env *Envelope) Event {
	return env.Event
}

func decodeAndValidate(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return decodeError(err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: reason(fe), Err: err}
		}
		return &ValidationError{Reason: err.Error(), Err: err}
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Field:  typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			Err:    err,
		}
	}
	return &ValidationError{Reason: "malformed json", Err: err}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "eq":
		return fmt.Sprintf("must equal %q", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

func prefixField(prefix string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		field := prefix
		if verr.Field != "" {
			field = prefix + "." + verr.Field
		}
		return &ValidationError{Field: field, Reason: verr.Reason, Err: verr.Err}
	}
	return err
}

package jsonschema

import "testing"

const widgetSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "count": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`

func TestCompileAndValidate(t *testing.T) {
	if err := Compile("widget", []byte(widgetSchema)); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	if err := Validate("widget", []byte(`{"name":"gear","count":3}`)); err != nil {
		t.Errorf("expected valid payload to pass, got %v", err)
	}
	if err := Validate("widget", []byte(`{"count":3}`)); err == nil {
		t.Error("expected missing required field to fail")
	}
	if err := Validate("widget", []byte(`{"name":"gear","extra":true}`)); err == nil {
		t.Error("expected additional property to fail")
	}
}

func TestValidate_UnknownKey(t *testing.T) {
	if err := Validate("does-not-exist", []byte(`{}`)); err == nil {
		t.Error("expected error for unregistered schema key")
	}
}

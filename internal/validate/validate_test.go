package validate

import (
	"errors"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestValidate_Accepts(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		schema string
		body   string
	}{
		{Promote, `{"duration_days":7}`},
		{AutoRepost, `{"interval_minutes":1440}`},
		{AutoRepost, `{"interval_minutes":60,"credits_per_cycle":"0.25"}`},
		{AutoRepost, `{"interval_minutes":60,"credits_per_cycle":0.25}`},
		{SetActive, `{"is_active":false}`},
		{Grant, `{"account_id":"6f1c1c9e-6f0b-4a53-9b8e-3a3f1f0d2c11","amount":"10"}`},
	}
	for _, tc := range cases {
		if err := v.Validate(tc.schema, []byte(tc.body)); err != nil {
			t.Errorf("%s %s: unexpected error: %v", tc.schema, tc.body, err)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name   string
		schema string
		body   string
	}{
		{"missing duration", Promote, `{}`},
		{"duration too long", Promote, `{"duration_days":31}`},
		{"fractional duration", Promote, `{"duration_days":1.5}`},
		{"unknown field", Promote, `{"duration_days":1,"featured":true}`},
		{"zero interval", AutoRepost, `{"interval_minutes":0}`},
		{"credits as object", AutoRepost, `{"interval_minutes":60,"credits_per_cycle":{}}`},
		{"is_active missing", SetActive, `{}`},
		{"is_active as string", SetActive, `{"is_active":"no"}`},
		{"grant without amount", Grant, `{"account_id":"6f1c1c9e-6f0b-4a53-9b8e-3a3f1f0d2c11"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.schema, []byte(tc.body))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidate_BadJSONAndUnknownSchema(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate(Promote, []byte(`{`)); err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("expected a parse error, got %v", err)
	}
	if err := v.Validate("nope", []byte(`{}`)); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestValidate_NilAcceptsEverything(t *testing.T) {
	var v *Validator
	if err := v.Validate(Promote, []byte(`not json`)); err != nil {
		t.Errorf("nil validator: %v", err)
	}
}

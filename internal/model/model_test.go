package model

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// StringSet scanning
// ---------------------------------------------------------------------------

func TestStringSetRoundTrip(t *testing.T) {
	in := StringSet{"admin", "user"}

	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out StringSet
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 2 || out[0] != "admin" || out[1] != "user" {
		t.Errorf("round trip = %v, want [admin user]", out)
	}
}

func TestStringSetScanEdgeCases(t *testing.T) {
	cases := []struct {
		name string
		src  interface{}
		want int
		ok   bool
	}{
		{"nil source", nil, 0, true},
		{"empty string", "", 0, true},
		{"json null", "null", 0, true},
		{"byte slice", []byte(`["user"]`), 1, true},
		{"malformed json", "{not json", 0, false},
		{"wrong type", 42, 0, false},
	}
	for _, tc := range cases {
		var s StringSet
		err := s.Scan(tc.src)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if len(s) != tc.want {
			t.Errorf("%s: len = %d, want %d", tc.name, len(s), tc.want)
		}
		if s == nil {
			t.Errorf("%s: scan produced nil slice", tc.name)
		}
	}
}

func TestStringSetNilValue(t *testing.T) {
	var s StringSet
	v, err := s.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "[]" {
		t.Errorf("nil set value = %v, want []", v)
	}
}

// ---------------------------------------------------------------------------
// User scopes
// ---------------------------------------------------------------------------

func TestUserRole(t *testing.T) {
	cases := []struct {
		scopes StringSet
		want   string
	}{
		{StringSet{ScopeAdmin, ScopeUser}, ScopeAdmin},
		{StringSet{ScopeUser}, ScopeUser},
		{StringSet{}, ScopeGuest},
		{nil, ScopeGuest},
	}
	for _, tc := range cases {
		u := &User{Scopes: tc.scopes}
		if got := u.Role(); got != tc.want {
			t.Errorf("Role(%v) = %q, want %q", tc.scopes, got, tc.want)
		}
	}
}

func TestUserJSONNeverExposesPasswordHash(t *testing.T) {
	u := &User{Username: "alice", PasswordHash: "bcrypt-secret"}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) == "" || json.Valid(b) == false {
		t.Fatal("invalid JSON")
	}
	var raw map[string]interface{}
	json.Unmarshal(b, &raw)
	for k := range raw {
		if k == "password_hash" {
			t.Error("password hash serialized")
		}
	}
}

// ---------------------------------------------------------------------------
// Completion surface
// ---------------------------------------------------------------------------

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleSystem, RoleUser, RoleAssistant, RoleTool} {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false", role)
		}
	}
	for _, role := range []string{"", "oracle", "Admin", "USER"} {
		if ValidRole(role) {
			t.Errorf("ValidRole(%q) = true", role)
		}
	}
}

func TestCompletionRequestOmitsUnsetSampling(t *testing.T) {
	req := CompletionRequest{
		Model:    "llama-3",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	json.Unmarshal(b, &raw)
	for _, k := range []string{"temperature", "top_p", "seed", "stop", "stream"} {
		if _, present := raw[k]; present {
			t.Errorf("unset field %q serialized", k)
		}
	}
}

func TestStreamErrorShape(t *testing.T) {
	ev := StreamError{Error: StreamErrorDetail{Message: "stream timed out", Type: "timeout"}}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"error":{"message":"stream timed out","type":"timeout"}}`
	if string(b) != want {
		t.Errorf("encoded = %s, want %s", b, want)
	}
}

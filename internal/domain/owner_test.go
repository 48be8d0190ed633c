package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestOwner_Key(t *testing.T) {
	id := uuid.MustParse("6f1c2a4e-8d1b-4c59-9a0e-2a1b3c4d5e6f")

	tests := []struct {
		name  string
		owner Owner
		want  string
	}{
		{"user", UserOwner(id), "user:6f1c2a4e-8d1b-4c59-9a0e-2a1b3c4d5e6f"},
		{"guest", GuestOwner("g_123-abc"), "guest:g_123-abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.owner.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}

			parsed, err := ParseOwnerKey(tt.want)
			if err != nil {
				t.Fatalf("ParseOwnerKey() error = %v", err)
			}
			if parsed != tt.owner {
				t.Errorf("ParseOwnerKey() = %v, want %v", parsed, tt.owner)
			}
		})
	}
}

func TestParseOwnerKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "user:not-a-uuid", "guest:", "guest:bad id", "tenant:1"} {
		t.Run(key, func(t *testing.T) {
			if _, err := ParseOwnerKey(key); err == nil {
				t.Errorf("ParseOwnerKey(%q) expected error", key)
			}
		})
	}
}

func TestOwner_Validate(t *testing.T) {
	tests := []struct {
		name    string
		owner   Owner
		wantErr bool
	}{
		{"user", UserOwner(uuid.New()), false},
		{"guest", GuestOwner(NewGuestID()), false},
		{"zero", Owner{}, true},
		{"both set", Owner{UserID: uuid.New(), GuestID: "abc"}, true},
		{"guest with slash", GuestOwner("a/b"), true},
		{"guest too long", GuestOwner(strings.Repeat("a", 129)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.owner.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && ErrorCode(err) != EINVALID {
				t.Errorf("Validate() code = %q, want %q", ErrorCode(err), EINVALID)
			}
		})
	}
}

func TestOptionsKey(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"nil", nil, ""},
		{"empty", Options{}, ""},
		{"single", Options{"grind": "whole"}, "grind=whole"},
		{"sorted", Options{"size": "12oz", "grind": "espresso"}, "grind=espresso;size=12oz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OptionsKey(tt.opts); got != tt.want {
				t.Errorf("OptionsKey() = %q, want %q", got, tt.want)
			}
			if got := OptionsKey(ParseOptionsKey(tt.want)); got != tt.want {
				t.Errorf("round trip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateOptions(t *testing.T) {
	if err := ValidateOptions(Options{"grind": "fine"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateOptions(Options{"a;b": "x"}); err == nil {
		t.Error("expected error for ';' in name")
	}
	if err := ValidateOptions(Options{"a": "x;y"}); err == nil {
		t.Error("expected error for ';' in value")
	}
	if err := ValidateOptions(Options{"": "x"}); err == nil {
		t.Error("expected error for empty name")
	}
}

package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "Str0ng!Passw0rd" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if !CheckPassword("Str0ng!Passw0rd", hash) {
		t.Fatal("matching password rejected")
	}
	if CheckPassword("Str0ng!Passw0rD", hash) {
		t.Fatal("case must matter")
	}
	if CheckPassword("Str0ng!Passw0rd", "not-a-hash") {
		t.Fatal("garbage hash must not match")
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"signup example", "Str0ng!Passw0rd", nil},
		{"non ascii letters", "Pässwört!2024", nil},
		{"eleven runes", "Sh0rt!Pass1", ErrPasswordTooShort},
		{"multibyte runes count once", "Ää1!ääääääää", nil},
		{"over bcrypt limit", "A1!" + strings.Repeat("a", 70), ErrPasswordTooLong},
		{"no upper", "lowercase123!", ErrPasswordWeak},
		{"no lower", "UPPERCASE123!", ErrPasswordWeak},
		{"no digit", "NoDigitsHere!!", ErrPasswordWeak},
		{"no special", "NoSpecials1234", ErrPasswordWeak},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if tc.want == nil && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.password, err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v for %q, got %v", tc.want, tc.password, err)
			}
		})
	}
}

package security

import (
	"errors"
	"testing"
)

func TestDefaultPasswordValidator(t *testing.T) {
	validator := DefaultPasswordValidator()

	cases := []struct {
		name     string
		password string
		wantCode string
	}{
		{name: "strong passphrase", password: "Tr0ub4dour&Relay!", wantCode: ""},
		{name: "too short", password: "Ab1!", wantCode: "min_length"},
		{name: "single character class", password: "abcdefghij", wantCode: "character_classes"},
		{name: "two character classes", password: "abcdefgh12", wantCode: "character_classes"},
		{name: "common pattern", password: "Password1!", wantCode: "strength"},
		{name: "keyboard walk", password: "Qwerty12!", wantCode: "strength"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate(tc.password)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("expected %q accepted, got %v", tc.password, err)
				}
				return
			}

			var policyErr *PasswordValidationError
			if !errors.As(err, &policyErr) {
				t.Fatalf("expected a policy violation for %q, got %v", tc.password, err)
			}
			if policyErr.Code != tc.wantCode {
				t.Fatalf("expected code %q for %q, got %q", tc.wantCode, tc.password, policyErr.Code)
			}
		})
	}
}

func TestPasswordValidator_RulesRunInOrder(t *testing.T) {
	calls := make([]string, 0, 2)
	validator := NewPasswordValidator(
		PasswordRuleFunc(func(string) error {
			calls = append(calls, "first")
			return &PasswordValidationError{Code: "first", Message: "stop here"}
		}),
		PasswordRuleFunc(func(string) error {
			calls = append(calls, "second")
			return nil
		}),
	)

	err := validator.Validate("anything")
	var policyErr *PasswordValidationError
	if !errors.As(err, &policyErr) || policyErr.Code != "first" {
		t.Fatalf("expected the first violation returned, got %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("a failing rule must short-circuit, calls=%v", calls)
	}
}

func TestPasswordValidator_NilValidator(t *testing.T) {
	var validator *PasswordValidator
	if err := validator.Validate("anything"); err == nil {
		t.Fatalf("a nil validator must fail closed")
	}
}

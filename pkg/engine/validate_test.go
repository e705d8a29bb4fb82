package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr string
	}{
		{"encrypt ok", Encrypt{UserPassword: "u"}, ""},
		{"encrypt 128", Encrypt{UserPassword: "u", KeyLength: 128}, ""},
		{"encrypt pointer", &Encrypt{UserPassword: "u"}, ""},
		{"encrypt missing user", Encrypt{OwnerPassword: "o"}, "user password is required"},
		{"encrypt bad key length", Encrypt{UserPassword: "u", KeyLength: 40}, "key length must be one of 128 256"},
		{"decrypt ok", Decrypt{Password: "p"}, ""},
		{"decrypt missing password", Decrypt{}, "password is required"},
		{"remove restrictions empty password", RemoveRestrictions{}, ""},
		{"linearize", Linearize{}, ""},
		{"nil", nil, "no operation given"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOperation(tt.op)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateOperation() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("ValidateOperation() error = %v, want invalid options", err)
			}
			var opErr *OperationError
			errors.As(err, &opErr)
			if !strings.Contains(opErr.Message, tt.wantErr) {
				t.Errorf("Message = %q, want it to contain %q", opErr.Message, tt.wantErr)
			}
		})
	}
}

func TestValidateOperation_DoesNotEchoPasswords(t *testing.T) {
	err := ValidateOperation(Encrypt{OwnerPassword: "hunter2", KeyLength: 7})
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *OperationError
	errors.As(err, &opErr)
	if strings.Contains(opErr.Message, "hunter2") {
		t.Errorf("Message leaks password: %q", opErr.Message)
	}
}

package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  *AuthResult
		wantErr error
	}{
		{
			name:    "nil result",
			result:  nil,
			wantErr: ErrEmptyAuthKey,
		},
		{
			name:    "empty key",
			result:  &AuthResult{ServerSalt: 1, ServerTime: time.Unix(1700000000, 0)},
			wantErr: ErrEmptyAuthKey,
		},
		{
			name:    "nominal key",
			result:  &AuthResult{AuthKey: make([]byte, AuthKeySize), ServerSalt: 1},
			wantErr: nil,
		},
		{
			name:    "long key",
			result:  &AuthResult{AuthKey: make([]byte, 256)},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.result.Validate(), tt.wantErr)
		})
	}
}

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		peerID  string
		wantErr bool
	}{
		{"simple", "peer-1", false},
		{"uuid", "3f1c9a4e-8d3b-4c7e-9a51-0b6f2d8e7c10", false},
		{"unicode", "gäst", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", 129), true},
		{"control character", "peer\n1", true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.peerID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://meet.example.com/api", "http", "https"))
	assert.NoError(t, ValidateURL("wss://meet.example.com/ws", "ws", "wss"))

	assert.Error(t, ValidateURL("", "http"))
	assert.Error(t, ValidateURL("/relative", "http"))
	assert.Error(t, ValidateURL("ftp://host", "http", "https"))
	assert.Error(t, ValidateURL("http://[::1", "http"))
}

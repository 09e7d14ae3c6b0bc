package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRawMessage(t *testing.T) {
	raw := buildRawMessage("alice@example.com", "Quick question", "Hello!\n\nThanks.")

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	text := string(decoded)

	assert.Contains(t, text, "To: alice@example.com\r\n")
	assert.Contains(t, text, "Subject: Quick question\r\n")
	assert.Contains(t, text, "Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	assert.Contains(t, text, "MIME-Version: 1.0\r\n")
	assert.Contains(t, text, "\r\n\r\nHello!\n\nThanks.")
}

func TestBuildRawMessageEncodesSubject(t *testing.T) {
	raw := buildRawMessage("bob@example.com", "Grüße aus München", "hi")

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)

	assert.Contains(t, string(decoded), "Subject: =?UTF-8?b?")
	assert.NotContains(t, string(decoded), "Grüße")
}

func TestEncodeRFC2047(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		encoded bool
	}{
		{name: "plain ascii untouched", in: "Meeting notes", encoded: false},
		{name: "umlauts encoded", in: "Änderung", encoded: true},
		{name: "emoji encoded", in: "Done ✅", encoded: true},
		{name: "empty untouched", in: "", encoded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeRFC2047(tt.in)
			if tt.encoded {
				assert.Contains(t, got, "=?UTF-8?")
			} else {
				assert.Equal(t, tt.in, got)
			}
		})
	}
}

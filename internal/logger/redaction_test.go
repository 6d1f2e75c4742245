package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"openai key", "key=sk-proj-abcdefghijklmnopqrstuv", "sk-proj-abcdefghijklmnopqrstuv"},
		{"anthropic key", "using sk-ant-REDACTED", "sk-ant-REDACTED"},
		{"gemini key", "AIzaSyA1b2C3d4E5f6G7h8I9j0KlMnOpQrStUv", "AIzaSyA1b2C3d4E5f6G7h8I9j0KlMnOpQrStUv"},
		{"bearer", "Authorization: Bearer abc.def-ghi", "abc.def-ghi"},
		{"telegram token in url", "https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawX/getMe", "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawX"},
		{"json api_key", `{"api_key":"hunter2"}`, "hunter2"},
		{"password", "password=hunter2 user=x", "hunter2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, "[REDACTED]")
		})
	}

	t.Run("plain text untouched", func(t *testing.T) {
		assert.Equal(t, "btc 多少钱", r.Redact("btc 多少钱"))
	})
}

func TestAddPattern(t *testing.T) {
	r := NewRedactor()

	require.NoError(t, r.AddPattern(`chat-\d+`))
	assert.Equal(t, "group [REDACTED]", r.Redact("group chat-42"))

	assert.Error(t, r.AddPattern(`(`))
}

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactor().Wrap(&buf)

	input := []byte("token sk-abcdefghijklmnopqrstuvwxyz1234\n")
	n, err := w.Write(input)

	require.NoError(t, err)
	assert.Equal(t, len(input), n)
	assert.Equal(t, "token [REDACTED]\n", buf.String())
}

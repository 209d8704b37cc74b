package post

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"ai text with prompt", Request{ContentType: AIText, Prompt: "go", OriginChatID: 1}, false},
		{"ai image without prompt", Request{ContentType: AIImage, Prompt: "  ", OriginChatID: 1}, true},
		{"ai text with content", Request{ContentType: AIText, Prompt: "go", Content: "x", OriginChatID: 1}, true},
		{"ai text with preview", Request{ContentType: AIText, Prompt: "go", Text: "Go is fun.", OriginChatID: 1}, false},
		{"ai text with image", Request{ContentType: AIText, Prompt: "go", Image: []byte{1}, OriginChatID: 1}, true},
		{"ai image with preview", Request{ContentType: AIImage, Prompt: "sunset", Image: []byte{1}, OriginChatID: 1}, false},
		{"ai image with text", Request{ContentType: AIImage, Prompt: "sunset", Text: "t", OriginChatID: 1}, true},
		{"custom", Request{ContentType: Custom, Content: "Hello", OriginChatID: 1}, false},
		{"custom with prompt", Request{ContentType: Custom, Content: "Hello", Prompt: "p", OriginChatID: 1}, true},
		{"combined", Request{ContentType: Combined, Text: "t", Image: []byte{1}, OriginChatID: 1}, false},
		{"combined without image", Request{ContentType: Combined, Text: "t", OriginChatID: 1}, true},
		{"unknown type", Request{ContentType: "poll", Prompt: "p", OriginChatID: 1}, true},
		{"missing origin", Request{ContentType: Custom, Content: "Hello"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 30))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "привет...", Truncate("приветствую всех", 9))
}

func TestRequestSummary(t *testing.T) {
	r := Request{ContentType: Custom, Content: "line one\nline   two"}
	assert.Equal(t, "line one line two", r.Summary(30))
}

func TestDestinationString(t *testing.T) {
	assert.Equal(t, "@mychannel", Destination{Username: "@mychannel"}.String())
	assert.Equal(t, "-1001234", ChatDestination(-1001234).String())
}

func TestRequestNeedsGeneration(t *testing.T) {
	assert.True(t, Request{ContentType: AIText, Prompt: "go"}.NeedsGeneration())
	assert.False(t, Request{ContentType: AIText, Prompt: "go", Text: "done"}.NeedsGeneration())
	assert.True(t, Request{ContentType: AIImage, Prompt: "sunset"}.NeedsGeneration())
	assert.False(t, Request{ContentType: AIImage, Prompt: "sunset", Image: []byte{1}}.NeedsGeneration())
	assert.False(t, Request{ContentType: Custom, Content: "Hello"}.NeedsGeneration())
}

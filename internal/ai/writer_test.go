package ai

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scheduler-post-bot/internal/article"
)

type scriptedModel struct {
	mu      sync.Mutex
	errs    []error
	text    string
	prompts []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(parts) > 0 {
		if text, ok := parts[0].(genai.Text); ok {
			m.prompts = append(m.prompts, string(text))
		}
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(m.text)}},
		}},
	}, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeArticles struct {
	article *article.Article
	err     error
}

func (f fakeArticles) Fetch(context.Context, string) (*article.Article, error) {
	return f.article, f.err
}

func fastOptions() Options {
	return Options{
		PromptFormat: "Write about: %s",
		MinInterval:  time.Millisecond,
		MaxRetries:   3,
		RetryBase:    time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}
}

func newTestWriter(model Model, opts Options) *Writer {
	logger, _ := test.NewNullLogger()
	return newWriter(model, opts, logger)
}

func TestGenerate_FormatsPrompt(t *testing.T) {
	model := &scriptedModel{text: "  A short post.  "}
	w := newTestWriter(model, fastOptions())

	text, err := w.Generate(context.Background(), "Go generics")
	require.NoError(t, err)
	assert.Equal(t, "A short post.", text)
	assert.Equal(t, []string{"Write about: Go generics"}, model.prompts)
}

func TestGenerate_PromptWithoutVerb(t *testing.T) {
	model := &scriptedModel{text: "ok"}
	opts := fastOptions()
	opts.PromptFormat = "Summarize this"
	w := newTestWriter(model, opts)

	_, err := w.Generate(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, "Summarize this \n\n\"topic\"", model.prompts[0])
}

func TestGenerate_RetriesRateLimits(t *testing.T) {
	model := &scriptedModel{
		text: "done",
		errs: []error{
			&googleapi.Error{Code: http.StatusTooManyRequests},
			status.Error(codes.ResourceExhausted, "quota exceeded"),
		},
	}
	w := newTestWriter(model, fastOptions())

	text, err := w.Generate(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, 3, model.calls())
}

func TestGenerate_GivesUpAfterMaxRetries(t *testing.T) {
	limited := &googleapi.Error{Code: http.StatusTooManyRequests}
	model := &scriptedModel{errs: []error{limited, limited, limited, limited, limited}}
	w := newTestWriter(model, fastOptions())

	_, err := w.Generate(context.Background(), "topic")
	assert.Error(t, err)
	assert.Equal(t, 4, model.calls())
}

func TestGenerate_DoesNotRetryOtherErrors(t *testing.T) {
	model := &scriptedModel{errs: []error{&googleapi.Error{Code: http.StatusBadRequest, Message: "bad prompt"}}}
	w := newTestWriter(model, fastOptions())

	_, err := w.Generate(context.Background(), "topic")
	assert.ErrorContains(t, err, "bad prompt")
	assert.Equal(t, 1, model.calls())
}

func TestGenerate_PacesRequests(t *testing.T) {
	model := &scriptedModel{text: "ok"}
	opts := fastOptions()
	opts.MinInterval = 50 * time.Millisecond
	w := newTestWriter(model, opts)

	began := time.Now()
	for i := 0; i < 2; i++ {
		_, err := w.Generate(context.Background(), "topic")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(began), 40*time.Millisecond)
}

func TestGenerate_LinkTopicUsesArticle(t *testing.T) {
	model := &scriptedModel{text: "ok"}
	opts := fastOptions()
	opts.Articles = fakeArticles{article: &article.Article{
		Title:       "Release notes",
		Link:        "https://example.com/post",
		Description: "What is new in Go.",
		TextContent: "Generics landed.",
	}}
	w := newTestWriter(model, opts)

	_, err := w.Generate(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	assert.Contains(t, model.prompts[0], `the article "Release notes"`)
	assert.Contains(t, model.prompts[0], "Summary: What is new in Go.")
	assert.Contains(t, model.prompts[0], "Generics landed.")
}

func TestGenerate_LinkFetchFailure(t *testing.T) {
	model := &scriptedModel{text: "ok"}
	opts := fastOptions()
	opts.Articles = fakeArticles{err: errors.New("404")}
	w := newTestWriter(model, opts)

	_, err := w.Generate(context.Background(), "https://example.com/missing")
	assert.ErrorContains(t, err, "could not read article")
	assert.Zero(t, model.calls())
}

func TestGenerate_EmptyInputsAndResponses(t *testing.T) {
	w := newTestWriter(&scriptedModel{text: "   "}, fastOptions())

	_, err := w.Generate(context.Background(), "  ")
	assert.Error(t, err)

	_, err = w.Generate(context.Background(), "topic")
	assert.ErrorContains(t, err, "unexpected response format")
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"http 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc unavailable", status.Error(codes.Unavailable, "overloaded"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRateLimited(tt.err))
		})
	}
}

func TestPing_DoesNotRetry(t *testing.T) {
	model := &scriptedModel{text: "Hello", errs: []error{&googleapi.Error{Code: http.StatusTooManyRequests}}}
	w := newTestWriter(model, fastOptions())

	assert.Error(t, w.Ping(context.Background()))
	assert.Equal(t, 1, model.calls())

	require.NoError(t, w.Ping(context.Background()))
	assert.Equal(t, "Say hello in one word", model.prompts[1])
}

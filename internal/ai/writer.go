package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"scheduler-post-bot/internal/article"
)

// maxArticleRunes bounds how much article text is sent to the model.
const maxArticleRunes = 8000

// Model is the part of *genai.GenerativeModel the writer needs.
type Model interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type ArticleSource interface {
	Fetch(ctx context.Context, link string) (*article.Article, error)
}

// Writer produces channel posts with Gemini. Requests are paced to one per
// MinInterval and rate-limit responses are retried with exponential backoff.
type Writer struct {
	client       *genai.Client
	model        Model
	promptFormat string
	articles     ArticleSource
	pacer        *rate.Limiter
	executor     failsafe.Executor[*genai.GenerateContentResponse]
	log          logrus.FieldLogger
}

type Options struct {
	PromptFormat string
	MinInterval  time.Duration
	// Articles resolves link topics; nil treats links as plain text.
	Articles   ArticleSource
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinInterval <= 0 {
		o.MinInterval = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.RetryMax < o.RetryBase {
		o.RetryMax = 8 * o.RetryBase
	}
	return o
}

func NewWriter(ctx context.Context, apiKey, modelName string, opts Options, log logrus.FieldLogger) (*Writer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	w := newWriter(client.GenerativeModel(modelName), opts, log)
	w.client = client
	return w, nil
}

func newWriter(model Model, opts Options, log logrus.FieldLogger) *Writer {
	opts = opts.withDefaults()
	retry := retrypolicy.NewBuilder[*genai.GenerateContentResponse]().
		WithBackoff(opts.RetryBase, opts.RetryMax).
		WithMaxRetries(opts.MaxRetries).
		HandleIf(func(_ *genai.GenerateContentResponse, err error) bool {
			return isRateLimited(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[*genai.GenerateContentResponse]) {
			log.Warnf("Gemini rate limited, retry attempt %d", e.Attempts())
		}).
		Build()
	return &Writer{
		model:        model,
		promptFormat: opts.PromptFormat,
		articles:     opts.Articles,
		pacer:        rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		executor:     failsafe.With[*genai.GenerateContentResponse](retry),
		log:          log.WithField("component", "gemini"),
	}
}

// Generate writes a post about topic. A topic that is a link is replaced by
// the text of the article it points to.
func (w *Writer) Generate(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("topic is empty, cannot generate a post")
	}

	subject := topic
	if w.articles != nil && article.IsLink(topic) {
		a, err := w.articles.Fetch(ctx, topic)
		if err != nil {
			return "", fmt.Errorf("could not read article: %w", err)
		}
		w.log.WithField("link", a.Link).Debugf("Writing post about article %q", a.Title)
		subject = articleSubject(a)
	}

	resp, err := w.executor.WithContext(ctx).Get(func() (*genai.GenerateContentResponse, error) {
		if err := w.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		return w.model.GenerateContent(ctx, genai.Text(w.prompt(subject)))
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return responseText(resp)
}

// Ping sends one short request to the model, skipping the retry policy.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.pacer.Wait(ctx); err != nil {
		return err
	}
	resp, err := w.model.GenerateContent(ctx, genai.Text("Say hello in one word"))
	if err != nil {
		return err
	}
	_, err = responseText(resp)
	return err
}

func articleSubject(a *article.Article) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "the article %q\n\n", a.Title)
	if a.Description != "" {
		fmt.Fprintf(&builder, "Summary: %s\n\n", a.Description)
	}
	builder.WriteString(truncateRunes(a.TextContent, maxArticleRunes))
	return builder.String()
}

func (w *Writer) prompt(subject string) string {
	if strings.Contains(w.promptFormat, "%s") {
		return fmt.Sprintf(w.promptFormat, subject)
	}
	return fmt.Sprintf("%s \n\n\"%s\"", w.promptFormat, subject)
}

func (w *Writer) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("received an empty response from AI")
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("unexpected response format from AI")
	}
	return text, nil
}

// isRateLimited reports whether err is a quota or overload response worth retrying.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

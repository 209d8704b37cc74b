package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

const maxImageBytes = 20 << 20

const negativePrompt = "blurry, low quality, distorted, watermark, text"

const pingPrompt = "a photo of an astronaut riding a horse on mars"

type parameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

type request struct {
	Inputs         string     `json:"inputs"`
	NegativePrompt string     `json:"negative_prompt"`
	Parameters     parameters `json:"parameters"`
}

// StatusError is a non-200 answer from the inference API.
type StatusError struct {
	Model string
	Code  int
	Body  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s returned HTTP %d: %s", e.Model, e.Code, e.Body)
}

// Temporary reports whether the request is worth repeating: the model is
// loading, overloaded or rate limited.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client generates images with the Hugging Face inference API, trying the
// fallback model when the primary one keeps failing.
type Client struct {
	apiKey   string
	baseURL  string
	models   []string
	http     *http.Client
	executor failsafe.Executor[[]byte]
	log      logrus.FieldLogger
}

type Options struct {
	HTTPClient *http.Client
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

func NewClient(apiKey, baseURL, primary, fallback string, log logrus.FieldLogger, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 5 * time.Second
	}
	if opts.RetryMax < opts.RetryBase {
		opts.RetryMax = 4 * opts.RetryBase
	}

	models := []string{primary}
	if fallback != "" && fallback != primary {
		models = append(models, fallback)
	}
	log = log.WithField("component", "imagegen")

	retry := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(opts.RetryBase, opts.RetryMax).
		WithMaxRetries(opts.MaxRetries).
		HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
		OnRetry(func(e failsafe.ExecutionEvent[[]byte]) {
			log.Warnf("Image request failed, retry attempt %d: %v", e.Attempts(), e.LastError())
		}).
		Build()

	return &Client{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		models:   models,
		http:     opts.HTTPClient,
		executor: failsafe.With[[]byte](retry),
		log:      log,
	}
}

// Generate returns the encoded image for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("image prompt is empty")
	}

	var errs []error
	for _, model := range c.models {
		image, err := c.executor.WithContext(ctx).Get(func() ([]byte, error) {
			return c.generate(ctx, model, prompt)
		})
		if err == nil {
			return image, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.WithField("model", model).Warnf("Image model failed: %v", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all image models failed: %w", errors.Join(errs...))
}

// Ping makes one generation request against the primary model without
// retries or fallback.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.generate(ctx, c.models[0], pingPrompt)
	return err
}

func (c *Client) generate(ctx context.Context, model, prompt string) ([]byte, error) {
	payload, err := json.Marshal(request{
		Inputs:         prompt,
		NegativePrompt: negativePrompt,
		Parameters: parameters{
			NumInferenceSteps: 50,
			GuidanceScale:     7.5,
			Width:             1024,
			Height:            1024,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+model, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach model %s: %w", model, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read image from model %s: %w", model, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{Model: model, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if kind := http.DetectContentType(body); !strings.HasPrefix(kind, "image/") {
		return nil, fmt.Errorf("model %s returned %s instead of an image", model, kind)
	}
	return body, nil
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

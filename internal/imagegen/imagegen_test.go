package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type inferenceServer struct {
	mu       sync.Mutex
	hits     map[string]int
	requests []request
	handler  func(model string, hit int, w http.ResponseWriter)
}

func newInferenceServer(t *testing.T, handler func(model string, hit int, w http.ResponseWriter)) (*inferenceServer, *httptest.Server) {
	t.Helper()
	s := &inferenceServer{hits: map[string]int{}, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		model := r.URL.Path[1:]
		s.mu.Lock()
		s.hits[model]++
		hit := s.hits[model]
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		s.handler(model, hit, w)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *inferenceServer) count(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[model]
}

func newTestClient(srv *httptest.Server, fallback string) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient("hf_token", srv.URL+"/", "org/primary", fallback, logger, Options{
		HTTPClient: srv.Client(),
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
		RetryMax:   2 * time.Millisecond,
	})
}

func TestGenerate_Success(t *testing.T) {
	s, srv := newInferenceServer(t, func(_ string, _ int, w http.ResponseWriter) {
		_, _ = w.Write(pngBytes)
	})

	image, err := newTestClient(srv, "").Generate(context.Background(), "a red fox")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, image)

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, "a red fox", req.Inputs)
	assert.Equal(t, negativePrompt, req.NegativePrompt)
	assert.Equal(t, parameters{NumInferenceSteps: 50, GuidanceScale: 7.5, Width: 1024, Height: 1024}, req.Parameters)
}

func TestGenerate_RetriesWhileModelLoads(t *testing.T) {
	s, srv := newInferenceServer(t, func(_ string, hit int, w http.ResponseWriter) {
		if hit == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
			return
		}
		_, _ = w.Write(pngBytes)
	})

	_, err := newTestClient(srv, "org/fallback").Generate(context.Background(), "fox")
	require.NoError(t, err)
	assert.Equal(t, 2, s.count("org/primary"))
	assert.Zero(t, s.count("org/fallback"))
}

func TestGenerate_FallsBackToSecondModel(t *testing.T) {
	s, srv := newInferenceServer(t, func(model string, _ int, w http.ResponseWriter) {
		if model == "org/primary" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(pngBytes)
	})

	image, err := newTestClient(srv, "org/fallback").Generate(context.Background(), "fox")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, image)
	assert.Equal(t, 3, s.count("org/primary"))
	assert.Equal(t, 1, s.count("org/fallback"))
}

func TestGenerate_ClientErrorsAreNotRetried(t *testing.T) {
	s, srv := newInferenceServer(t, func(_ string, _ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	})

	_, err := newTestClient(srv, "org/fallback").Generate(context.Background(), "fox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, 1, s.count("org/primary"))
	assert.Equal(t, 1, s.count("org/fallback"))
}

func TestGenerate_RejectsNonImageBody(t *testing.T) {
	_, srv := newInferenceServer(t, func(_ string, _ int, w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"warning":"nsfw content"}`))
	})

	_, err := newTestClient(srv, "").Generate(context.Background(), "fox")
	assert.ErrorContains(t, err, "instead of an image")
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	_, srv := newInferenceServer(t, func(string, int, http.ResponseWriter) {})
	_, err := newTestClient(srv, "").Generate(context.Background(), "  ")
	assert.Error(t, err)
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&StatusError{Code: http.StatusTooManyRequests}).Temporary())
	assert.True(t, (&StatusError{Code: http.StatusBadGateway}).Temporary())
	assert.False(t, (&StatusError{Code: http.StatusForbidden}).Temporary())
}

func TestPing_SingleAttemptOnPrimary(t *testing.T) {
	s, srv := newInferenceServer(t, func(_ string, _ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := newTestClient(srv, "org/fallback").Ping(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, 1, s.count("org/primary"))
	assert.Zero(t, s.count("org/fallback"))
}

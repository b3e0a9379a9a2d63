package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestClient_ConcurrencyGate(t *testing.T) {
	tests := []struct {
		name     string
		gate     int
		requests int
	}{
		{name: "Single slot", gate: 1, requests: 10},
		{name: "Three slots", gate: 3, requests: 30},
		{name: "More slots than requests", gate: 50, requests: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var active, peak int64
			transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return textResponse(req, http.StatusOK, "ok"), nil
			})

			client := New(Options{MaxParallelConnections: tt.gate, Transport: transport}, testLogger())

			var wg sync.WaitGroup
			errs := make(chan error, tt.requests)
			for i := 0; i < tt.requests; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := client.Get(context.Background(), "http://example.test/")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}
			assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(tt.gate))
			assert.GreaterOrEqual(t, atomic.LoadInt64(&peak), int64(1))
		})
	}
}

func TestClient_ReleasesSlotOnFailure(t *testing.T) {
	var calls int64
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt64(&calls, 1) <= 5 {
			return nil, errors.New("connection reset")
		}
		return textResponse(req, http.StatusOK, "ok"), nil
	})

	client := New(Options{MaxParallelConnections: 1, MaxRetryCount: 0, Transport: transport}, testLogger())

	for i := 0; i < 5; i++ {
		_, err := client.Get(context.Background(), "http://example.test/")
		require.Error(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Get(ctx, "http://example.test/")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestClient_Retry(t *testing.T) {
	tests := []struct {
		name          string
		maxRetries    int
		failWith      func(*http.Request) (*http.Response, error)
		expectSuccess bool
		expectedCalls int64
	}{
		{
			name:       "Transport errors then success",
			maxRetries: 2,
			failWith: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			expectSuccess: true,
			expectedCalls: 3,
		},
		{
			name:       "Server errors then success",
			maxRetries: 3,
			failWith: func(req *http.Request) (*http.Response, error) {
				return textResponse(req, http.StatusServiceUnavailable, "busy"), nil
			},
			expectSuccess: true,
			expectedCalls: 3,
		},
		{
			name:       "Budget too small",
			maxRetries: 1,
			failWith: func(req *http.Request) (*http.Response, error) {
				return textResponse(req, http.StatusTooManyRequests, "slow down"), nil
			},
			expectSuccess: false,
			expectedCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int64
			transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
				if atomic.AddInt64(&calls, 1) <= 2 {
					return tt.failWith(req)
				}
				return textResponse(req, http.StatusOK, "done"), nil
			})

			client := New(Options{
				MaxRetryCount:  tt.maxRetries,
				RetryBaseDelay: time.Millisecond,
				Transport:      transport,
			}, testLogger())

			resp, err := client.Get(context.Background(), "http://example.test/")
			assert.Equal(t, tt.expectedCalls, atomic.LoadInt64(&calls))
			if tt.expectSuccess {
				require.NoError(t, err)
				assert.Equal(t, "done", string(resp.Body))
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFetchExhausted)
			var transient *TransientError
			assert.True(t, errors.As(err, &transient))
		})
	}
}

func TestClient_NonTransientNotRetried(t *testing.T) {
	var calls int64
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&calls, 1)
		return textResponse(req, http.StatusNotFound, "missing"), nil
	})
	client := New(Options{MaxRetryCount: 3, RetryBaseDelay: time.Millisecond, Transport: transport}, testLogger())

	resp, err := client.Get(context.Background(), "http://example.test/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	var statusErr *StatusError
	assert.True(t, errors.As(resp.OK(), &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestClient_MalformedRequest(t *testing.T) {
	var calls int64
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&calls, 1)
		return textResponse(req, http.StatusOK, ""), nil
	})
	client := New(Options{MaxRetryCount: 3, RetryBaseDelay: time.Millisecond, Transport: transport}, testLogger())

	_, err := client.Get(context.Background(), "://missing-scheme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFetchExhausted)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestClient_Redirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final?locationIdentifier=STATION%5E1", http.StatusFound)
			return
		}
		w.Write([]byte("final"))
	}))
	defer server.Close()

	client := New(Options{}, testLogger())

	resp, err := client.GetWithOptions(context.Background(), server.URL+"/start", nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "locationIdentifier=STATION%5E1")

	resp, err = client.GetWithOptions(context.Background(), server.URL+"/start", nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "final", string(resp.Body))
}

func TestClient_HeadersAndQuery(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := New(Options{UserAgent: "agent/1.0", Referer: "https://www.rightmove.co.uk/"}, testLogger())

	query := url.Values{"index": {"24"}, "channel": {"BUY"}}
	_, err := client.GetWithOptions(context.Background(), server.URL+"/api?fixed=1", query, true)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "agent/1.0", got.Header.Get("User-Agent"))
	assert.Equal(t, "https://www.rightmove.co.uk/", got.Header.Get("Referer"))
	assert.Equal(t, "1", got.URL.Query().Get("fixed"))
	assert.Equal(t, "24", got.URL.Query().Get("index"))
	assert.Equal(t, "BUY", got.URL.Query().Get("channel"))
}

func TestClient_PostWithFormResendsBody(t *testing.T) {
	var calls int64
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		bodies = append(bodies, r.PostForm.Encode())
		mu.Unlock()
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(Options{MaxRetryCount: 1, RetryBaseDelay: time.Millisecond}, testLogger())

	form := url.Values{"user": {"someone"}, "properties[0][id]": {"42"}}
	resp, err := client.PostWithForm(context.Background(), server.URL, form)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))

	require.Len(t, bodies, 2)
	assert.Equal(t, form.Encode(), bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
}

func TestResponse_DecodeJSON(t *testing.T) {
	var payload struct {
		Name string `json:"name"`
	}

	resp := &Response{URL: "http://example.test/x", StatusCode: http.StatusOK, Body: []byte(`{"name":"ok"}`)}
	require.NoError(t, resp.DecodeJSON(&payload, "payload"))
	assert.Equal(t, "ok", payload.Name)

	resp = &Response{URL: "http://example.test/x", StatusCode: http.StatusOK, Body: []byte(`<html>blocked</html>`)}
	err := resp.DecodeJSON(&payload, "payload")
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "http://example.test/x", decodeErr.URL)
	assert.Equal(t, "payload", decodeErr.Context)
	assert.Equal(t, `<html>blocked</html>`, string(decodeErr.Body))

	resp = &Response{URL: "http://example.test/x", StatusCode: http.StatusBadRequest, Body: []byte(`bad`)}
	var statusErr *StatusError
	assert.True(t, errors.As(resp.DecodeJSON(&payload, "payload"), &statusErr))
}

func TestClient_DecodeErrorNotRetried(t *testing.T) {
	var calls int64
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&calls, 1)
		return textResponse(req, http.StatusOK, "not json"), nil
	})
	client := New(Options{MaxRetryCount: 3, RetryBaseDelay: time.Millisecond, Transport: transport}, testLogger())

	resp, err := client.Get(context.Background(), "http://example.test/")
	require.NoError(t, err)

	var v map[string]any
	var decodeErr *DecodeError
	assert.True(t, errors.As(resp.DecodeJSON(&v, "payload"), &decodeErr))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestClient_ContextCancelled(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	client := New(Options{MaxRetryCount: 5, RetryBaseDelay: time.Millisecond, Transport: transport}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "http://example.test/")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrFetchExhausted)
}

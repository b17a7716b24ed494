package log

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLokiWriter(t *testing.T) {
	cfg := LokiConfig{
		Endpoint:      "http://localhost:3100/loki/api/v1/push",
		Labels:        map[string]string{"service": "test"},
		BatchSize:     10,
		FlushInterval: "1s",
	}

	lw, err := NewLokiWriter(cfg)
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, cfg.Endpoint, lw.endpoint)
	assert.Equal(t, cfg.BatchSize, lw.batchSize)
	assert.Equal(t, time.Second, lw.flushInterval)
}

func TestNewLokiWriterDefaultBatchSize(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100/loki/api/v1/push"})
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, defaultLokiBatchSize, lw.batchSize)
}

func TestNewLokiWriterDefaultLabels(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100/loki/api/v1/push"})
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, defaultLokiJobLabel, lw.labels["job"])
}

func TestNewLokiWriterInvalidFlushInterval(t *testing.T) {
	_, err := NewLokiWriter(LokiConfig{
		Endpoint:      "http://localhost:3100/loki/api/v1/push",
		FlushInterval: "invalid",
	})
	assert.Error(t, err)
}

func TestLokiWriterWrite(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:  "http://localhost:3100/loki/api/v1/push",
		BatchSize: 10,
	})
	require.NoError(t, err)
	defer lw.Close()

	msg := "test log message"
	n, err := lw.Write([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	lw.mu.Lock()
	batchLen := len(lw.batch)
	lw.mu.Unlock()
	assert.Equal(t, 1, batchLen)
}

func TestLokiWriterWriteAfterClose(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:  "http://localhost:3100/loki/api/v1/push",
		BatchSize: 10,
	})
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	_, err = lw.Write([]byte("test"))
	assert.Error(t, err)
}

func TestLokiWriterBatchFlush(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var pushReq lokiPushRequest
		require.NoError(t, json.Unmarshal(body, &pushReq))
		assert.Len(t, pushReq.Streams, 1)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 3})
	require.NoError(t, err)
	defer lw.Close()

	for i := 0; i < 3; i++ {
		_, err := lw.Write([]byte("log message"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return requestCount.Load() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestLokiWriterPeriodicFlush(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:      server.URL,
		BatchSize:     100, // large enough that only the ticker triggers a flush
		FlushInterval: "50ms",
	})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("test log"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return requestCount.Load() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestLokiWriterCloseFlush(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:      server.URL,
		BatchSize:     100,
		FlushInterval: "10s",
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := lw.Write([]byte("log line"))
		require.NoError(t, err)
	}

	require.NoError(t, lw.Close())
	assert.Equal(t, int32(1), requestCount.Load())
}

func TestLokiWriterRetry(t *testing.T) {
	var attempts atomic.Int32
	const failUntilAttempt = 2

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < failUntilAttempt {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 1})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("test log"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return attempts.Load() >= failUntilAttempt }, time.Second, 10*time.Millisecond)
}

func TestLokiWriterHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 1})
	require.NoError(t, err)
	defer lw.Close()

	// Write itself never fails even though every flush attempt does.
	_, err = lw.Write([]byte("test log"))
	assert.NoError(t, err)
}

func TestLokiPushRequestFormat(t *testing.T) {
	bodyCh := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodyCh <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{
		Endpoint:  server.URL,
		Labels:    map[string]string{"service": "test", "env": "dev"},
		BatchSize: 1,
	})
	require.NoError(t, err)
	defer lw.Close()

	logMsg := "test log message"
	_, err = lw.Write([]byte(logMsg))
	require.NoError(t, err)

	var body []byte
	select {
	case body = <-bodyCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loki push request")
	}

	var pushReq lokiPushRequest
	require.NoError(t, json.Unmarshal(body, &pushReq))
	require.Len(t, pushReq.Streams, 1)

	stream := pushReq.Streams[0]
	assert.Equal(t, "test", stream.Stream["service"])
	assert.Equal(t, "dev", stream.Stream["env"])

	require.Len(t, stream.Values, 1)
	require.Len(t, stream.Values[0], 2)
	assert.Equal(t, logMsg, stream.Values[0][1])
}

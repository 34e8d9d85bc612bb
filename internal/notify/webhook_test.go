package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/chatd/pkg/request"
)

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "message.created", r.Header.Get("X-Chatd-Event"))
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, WithBackoff(time.Millisecond, 5*time.Millisecond), WithMaxAttempts(5))
	p := NewPublisher(sink)
	require.NoError(t, p.Publish(context.Background(), Event{Type: MessageCreated, RoomID: 1, UserID: 2}))

	assert.Equal(t, int32(3), calls.Load())
	e, err := Decode([]byte(body.Load().(string)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.RoomID)
}

func TestWebhookGivesUp(t *testing.T) {
	tests := []struct {
		name   string
		status int
		calls  int32
	}{
		{"client error is permanent", http.StatusBadRequest, 1},
		{"server error exhausts attempts", http.StatusServiceUnavailable, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sink := NewWebhookSink(srv.URL, WithBackoff(time.Millisecond, time.Millisecond), WithMaxAttempts(2))
			err := NewPublisher(sink).Publish(context.Background(), Event{Type: UserOnline, UserID: 1})
			require.Error(t, err)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

// countingTransport 记录经过的请求
type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestWebhookHeadersAndTransport(t *testing.T) {
	var eventID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "user.offline", r.Header.Get("X-Chatd-Event"))
		eventID.Store(r.Header.Get("X-Chatd-Event-ID"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rt := &countingTransport{}
	sink := NewWebhookSink(srv.URL, WithTransport(rt))
	defer sink.Close()

	err := NewPublisher(sink).Publish(context.Background(), Event{ID: "evt-1", Type: UserOffline, UserID: 3})
	require.ErrorIs(t, err, request.ErrStatus)
	assert.Equal(t, "evt-1", eventID.Load())
	assert.Equal(t, int32(1), rt.calls.Load())
}

func TestNewSinkWebhookRequiresURL(t *testing.T) {
	_, err := NewSink(&Config{Driver: DriverWebhook}, nil)
	require.Error(t, err)

	sink, err := NewSink(&Config{Driver: DriverWebhook, WebhookURL: "http://127.0.0.1:1/hook"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebhookSink{}, sink)
	assert.NoError(t, sink.Close())
}

package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  int // fail the first n attempts; negative fails forever
	sends []string
}

func (f *fakeSender) Send(ctx context.Context, url string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, url)
	if f.fail < 0 || len(f.sends) <= f.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func (f *fakeSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeSender) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

func startQueue(t *testing.T, sender Sender, clk clock.Clock) *Queue {
	t.Helper()
	q := NewQueue(sender, nil, clk, nil, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond, msg)
}

func TestDeliverySuccess(t *testing.T) {
	sender := &fakeSender{}
	q := startQueue(t, sender, clock.NewMock())

	q.Add("http://example.com/hook", map[string]string{"id": "1"})

	waitFor(t, func() bool { return sender.attempts() == 1 }, "delivery")
	waitFor(t, func() bool { return q.Len() == 0 }, "queue drained")
}

func TestDeliveryFIFO(t *testing.T) {
	sender := &fakeSender{}
	q := startQueue(t, sender, clock.NewMock())

	q.Add("http://example.com/a", nil)
	q.Add("http://example.com/b", nil)
	q.Add("http://example.com/c", nil)

	waitFor(t, func() bool { return sender.attempts() == 3 }, "all delivered")
	assert.Equal(t, []string{
		"http://example.com/a",
		"http://example.com/b",
		"http://example.com/c",
	}, sender.urls())
}

func TestRetrySchedule(t *testing.T) {
	clk := clock.NewMock()
	sender := &fakeSender{fail: 2}
	q := startQueue(t, sender, clk)

	q.Add("http://example.com/hook", nil)

	// First attempt is immediate and fails; the task is parked for 5s.
	waitFor(t, func() bool { return sender.attempts() == 1 && q.Len() == 1 }, "first attempt")

	// Nothing happens before the delay elapses.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sender.attempts())

	clk.Add(6 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 2 && q.Len() == 1 }, "second attempt")

	clk.Add(11 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 3 }, "third attempt succeeds")
	waitFor(t, func() bool { return q.Len() == 0 }, "queue drained")
}

func TestDropAfterExhaustedRetries(t *testing.T) {
	clk := clock.NewMock()
	sender := &fakeSender{fail: -1}
	q := startQueue(t, sender, clk)

	q.Add("http://example.com/hook", nil)

	// Initial attempt plus one per delay in the schedule.
	waitFor(t, func() bool { return sender.attempts() == 1 }, "attempt 1")
	clk.Add(6 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 2 }, "attempt 2")
	clk.Add(11 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 3 }, "attempt 3")
	clk.Add(31 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 4 }, "attempt 4")

	// Schedule exhausted: the task is dropped, not retried again.
	waitFor(t, func() bool { return q.Len() == 0 }, "task dropped")
	clk.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, sender.attempts())
}

func TestCustomDelays(t *testing.T) {
	clk := clock.NewMock()
	sender := &fakeSender{fail: -1}
	q := NewQueue(sender, []time.Duration{time.Second}, clk, nil, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	q.Add("http://example.com/hook", nil)

	waitFor(t, func() bool { return sender.attempts() == 1 }, "attempt 1")
	clk.Add(2 * time.Second)
	waitFor(t, func() bool { return sender.attempts() == 2 }, "attempt 2")
	waitFor(t, func() bool { return q.Len() == 0 }, "dropped after single retry")
}

func TestStopAbandonsQueuedTasks(t *testing.T) {
	clk := clock.NewMock()
	sender := &fakeSender{fail: -1}
	q := NewQueue(sender, nil, clk, nil, nil)
	q.Start(context.Background())

	q.Add("http://example.com/hook", nil)
	waitFor(t, func() bool { return sender.attempts() == 1 }, "first attempt")

	q.Stop()
	attempts := sender.attempts()
	clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, attempts, sender.attempts())
}

func TestHTTPSender(t *testing.T) {
	t.Run("2xx succeeds", func(t *testing.T) {
		var gotBody string
		var gotContentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := make([]byte, r.ContentLength)
			r.Body.Read(buf)
			gotBody = string(buf)
			gotContentType = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		s := NewHTTPSender(nil)
		err := s.Send(context.Background(), srv.URL, map[string]string{"invoice_id": "inv-1"})
		require.NoError(t, err)
		assert.Equal(t, "application/json", gotContentType)
		assert.JSONEq(t, `{"invoice_id":"inv-1"}`, gotBody)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		s := NewHTTPSender(nil)
		require.Error(t, s.Send(context.Background(), srv.URL, nil))
	})

	t.Run("unreachable host is an error", func(t *testing.T) {
		s := NewHTTPSender(&http.Client{Timeout: 100 * time.Millisecond})
		require.Error(t, s.Send(context.Background(), "http://127.0.0.1:1", nil))
	})
}

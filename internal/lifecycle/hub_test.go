package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribePublishFansOutToEverySubscriber(t *testing.T) {
	h := New(nil)

	ch1, unsub1 := h.Subscribe()
	defer unsub1()
	ch2, unsub2 := h.Subscribe()
	defer unsub2()

	sig := Signal{Kind: KindHistoryChange, ImageID: "img1", At: time.Now()}
	h.Publish(sig)

	for _, ch := range []<-chan Signal{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != KindHistoryChange || got.ImageID != "img1" {
				t.Fatalf("want the published signal back unchanged, got %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a subscriber to receive the published signal")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(nil)
	ch, unsub := h.Subscribe()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("want the channel closed after unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullSubscriberChannel(t *testing.T) {
	h := New(nil)
	_, unsub := h.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			h.Publish(Signal{Kind: KindPipeFinished, ImageID: "img1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a saturated subscriber channel instead of dropping")
	}
}

func TestHandleHealthz(t *testing.T) {
	h := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("want status=ok, got %+v", body)
	}
}

func TestHandleStreamFiltersByImageIDAndFlushes(t *testing.T) {
	h := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/images/img1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Routes().ServeHTTP(rec, req)
		close(done)
	}()

	// Give handleStream time to Subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	h.Publish(Signal{Kind: KindHistoryChange, ImageID: "img2"}) // filtered out
	h.Publish(Signal{Kind: KindHistoryChange, ImageID: "img1"}) // delivered
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleStream did not return after context cancellation")
	}

	body := rec.Body.String()
	lines := 0
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			lines++
			if strings.Contains(scanner.Text(), `"img2"`) {
				t.Fatal("want img2's signal filtered out of img1's stream")
			}
		}
	}
	if lines != 1 {
		t.Fatalf("want exactly 1 delivered event, got %d in body %q", lines, body)
	}
}

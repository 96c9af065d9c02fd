package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeLocalChanged, Data: map[string]string{"uuid": "clock@x"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: "+TypeLocalChanged) {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"uuid":"clock@x"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSpiceChanged_UpdatesThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First change of a type triggers updates.changed, the second does not.
	b.SpiceChanged(&installer.Result{UUID: "a@x", Type: models.Applet, Action: installer.ActionInstall})
	b.SpiceChanged(&installer.Result{UUID: "b@x", Type: models.Applet, Action: installer.ActionUpgrade})
	// Another type has its own throttle.
	b.LocalChanged(models.Theme)

	time.Sleep(50 * time.Millisecond)
	counts := map[string]int{}
loop:
	for {
		select {
		case msg := <-ch:
			line := strings.SplitN(string(msg), "\n", 2)[0]
			counts[strings.TrimPrefix(line, "event: ")]++
		default:
			break loop
		}
	}

	if counts[TypeInstalled] != 1 || counts[TypeUpgraded] != 1 || counts[TypeLocalChanged] != 1 {
		t.Errorf("spice events = %v", counts)
	}
	if counts[TypeUpdatesChanged] != 2 {
		t.Errorf("updates.changed = %d, want 2 (one per type)", counts[TypeUpdatesChanged])
	}
}

func TestCacheRefreshedPayload(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.CacheRefreshed(&harvester.RefreshReport{Type: models.Desklet, Entries: 3, IndexUpdated: true})
	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: "+TypeCacheRefreshed) || !strings.Contains(s, `"entries":3`) {
			t.Errorf("message = %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestUninstallEventType(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.SpiceChanged(&installer.Result{UUID: "c@x", Type: models.Extension, Action: installer.ActionUninstall})
	select {
	case msg := <-ch:
		if !strings.HasPrefix(string(msg), "event: "+TypeUninstalled) {
			t.Errorf("message = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: TypeCacheRefreshed, Data: map[string]string{"type": "applet"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: "+TypeCacheRefreshed) {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeCacheRefreshed, Data: map[string]string{"type": "applet"}})
	b.LocalChanged(models.Applet)
}

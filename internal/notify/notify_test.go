package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/yourusername/account-backup-manager/internal/config"
)

type captureChannel struct {
	mu     sync.Mutex
	events []*Event
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureChannel) kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kinds []Kind
	for _, e := range c.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestDispatchGatedByPreferences(t *testing.T) {
	channel := &captureChannel{}
	dispatcher := NewDispatcher(&ConfigPreferences{
		Preferences: map[string]config.UserPreferences{
			"root": {BackupSuccess: true},
		},
	}, channel)

	dispatcher.Dispatch(KindBackupSuccess, "root", nil)
	dispatcher.Dispatch(KindBackupFailure, "root", nil)
	dispatcher.Dispatch(KindBackupStart, "root", nil)

	kinds := channel.kinds()
	if len(kinds) != 1 || kinds[0] != KindBackupSuccess {
		t.Fatalf("expected only backup_success, got %v", kinds)
	}
}

func TestUnknownUserGetsFailuresOnly(t *testing.T) {
	channel := &captureChannel{}
	dispatcher := NewDispatcher(&ConfigPreferences{}, channel)

	dispatcher.Dispatch(KindRestoreSuccess, "nobody", nil)
	dispatcher.Dispatch(KindRestoreFailure, "nobody", nil)

	kinds := channel.kinds()
	if len(kinds) != 1 || kinds[0] != KindRestoreFailure {
		t.Fatalf("expected only restore_failure, got %v", kinds)
	}
}

func TestWebhookChannelPostsEvent(t *testing.T) {
	received := make(chan *Event, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		event := &Event{}
		if err := json.Unmarshal(body, event); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL)
	if err := channel.Send(&Event{Kind: KindBackupFailure, User: "root"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	event := <-received
	if event.Kind != KindBackupFailure || event.User != "root" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL)
	if err := channel.Send(&Event{Kind: KindBackupFailure}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/priorauth/priorauth/internal/platform/eventhub"
)

type recordingPoster struct {
	mu       sync.Mutex
	channels []string
	count    int
}

func (p *recordingPoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channelID)
	p.count++
	return channelID, "", nil
}

func (p *recordingPoster) posts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func TestNotifierPostsMilestones(t *testing.T) {
	hub := eventhub.New(zerolog.Nop())
	poster := &recordingPoster{}
	notifier := NewWithPoster(poster, "C123", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		notifier.Run(ctx, sub)
		close(done)
	}()

	hub.Publish(eventhub.Event{Type: eventhub.TypeStatusChanged, EncounterID: "enc-1"})
	hub.Publish(eventhub.Event{Type: eventhub.TypeReady, EncounterID: "enc-1", TransactionID: "tx-1"})
	hub.Publish(eventhub.Event{Type: eventhub.TypeProcessingError, EncounterID: "enc-2", Message: "record fetch failed"})

	deadline := time.After(2 * time.Second)
	for poster.posts() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out: %d posts", poster.posts())
		case <-time.After(10 * time.Millisecond):
		}
	}

	sub.Close()
	<-done

	if got := poster.posts(); got != 2 {
		t.Fatalf("posted %d messages, want 2 (status-changed is not a milestone)", got)
	}
	if poster.channels[0] != "C123" {
		t.Fatalf("posted to %q, want C123", poster.channels[0])
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		event     eventhub.Event
		milestone bool
	}{
		{"ready", eventhub.Event{Type: eventhub.TypeReady, EncounterID: "enc-1"}, true},
		{"processing error", eventhub.Event{Type: eventhub.TypeProcessingError, Message: "boom"}, true},
		{"status changed", eventhub.Event{Type: eventhub.TypeStatusChanged}, false},
		{"unknown", eventhub.Event{Type: "other"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, milestone := format(tt.event)
			if milestone != tt.milestone {
				t.Fatalf("milestone = %v, want %v", milestone, tt.milestone)
			}
			if milestone && text == "" {
				t.Fatal("milestone with empty text")
			}
		})
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	hub := eventhub.New(zerolog.Nop())
	notifier := NewWithPoster(&recordingPoster{}, "C123", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		notifier.Run(ctx, sub)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}

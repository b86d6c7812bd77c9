package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ashureev/chatwidget/internal/speech"
)

func TestCollector_CountsEngineEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.MessageSent()
	c.MessageSent()
	c.BackendRequest(200*time.Millisecond, nil)
	c.BackendRequest(time.Second, errors.New("boom"))
	c.ReplyRevealed(false, 100*time.Millisecond)
	c.ReplyRevealed(true, 100*time.Millisecond)
	c.VoiceAttempt(nil)
	c.VoiceAttempt(fmt.Errorf("wrapped: %w", speech.ErrUnsupported))
	c.VoiceAttempt(errors.New("no-speech"))
	c.InactivityReset()
	c.TurnAbandoned()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"messages", testutil.ToFloat64(c.messagesSent), 2},
		{"backend ok", testutil.ToFloat64(c.backendRequests.WithLabelValues("ok")), 1},
		{"backend error", testutil.ToFloat64(c.backendRequests.WithLabelValues("error")), 1},
		{"reply", testutil.ToFloat64(c.replies.WithLabelValues("reply")), 1},
		{"fallback", testutil.ToFloat64(c.replies.WithLabelValues("fallback")), 1},
		{"voice ok", testutil.ToFloat64(c.voiceAttempts.WithLabelValues("ok")), 1},
		{"voice unsupported", testutil.ToFloat64(c.voiceAttempts.WithLabelValues("unsupported")), 1},
		{"voice error", testutil.ToFloat64(c.voiceAttempts.WithLabelValues("error")), 1},
		{"inactivity", testutil.ToFloat64(c.inactivityResets), 1},
		{"abandoned", testutil.ToFloat64(c.turnsAbandoned), 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollector_SessionGauges(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetActiveEngines(3)
	c.AddSubscribers(2)
	c.AddSubscribers(-1)
	c.EnginesReaped(2)
	c.VisitorsDeleted(5)
	c.RateLimited()

	if got := testutil.ToFloat64(c.activeEngines); got != 3 {
		t.Errorf("active engines = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.subscribers); got != 1 {
		t.Errorf("subscribers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.enginesReaped); got != 2 {
		t.Errorf("reaped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.visitorsDeleted); got != 5 {
		t.Errorf("visitors deleted = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.rateLimited); got != 1 {
		t.Errorf("rate limited = %v, want 1", got)
	}
}

func TestNew_NilRegistererSkipsRegistration(t *testing.T) {
	c := New(nil)
	c.MessageSent()
	if got := testutil.ToFloat64(c.messagesSent); got != 1 {
		t.Fatalf("expected counter usable without registry, got %v", got)
	}
}

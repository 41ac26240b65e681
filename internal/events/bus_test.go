package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func TestBusFiltersByType(t *testing.T) {
	bus := NewBus(8, nil)
	defer bus.Close()

	var all, threats recorder
	bus.Subscribe("all", all.handle)
	bus.Subscribe("threats", threats.handle, TypeThreatDetected)

	bus.Publish(ThreatDetected{Threat: models.Threat{ID: "t1"}})
	bus.Publish(ProbeError{CheckID: "c1", Error: "boom"})

	require.Eventually(t, func() bool { return len(all.types()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(threats.types()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Type{TypeThreatDetected}, threats.types())
}

func TestBusSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(1, nil)
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe("slow", func(Event) { <-release })
	var fast recorder
	bus.Subscribe("fast", fast.handle)

	for i := 0; i < 5; i++ {
		bus.Publish(ProbeError{CheckID: "c"})
	}
	require.Eventually(t, func() bool { return len(fast.types()) >= 1 }, time.Second, 5*time.Millisecond)
	close(release)
}

func TestBusDeliversBurstPastBuffer(t *testing.T) {
	bus := NewBus(4, nil)

	release := make(chan struct{})
	var got recorder
	bus.Subscribe("slow", func(e Event) {
		<-release
		got.handle(e)
	})

	for i := 0; i < 20; i++ {
		bus.Publish(ProbeError{CheckID: fmt.Sprintf("c%d", i)})
	}
	close(release)
	bus.Close()

	require.Len(t, got.events, 20)
	for i, e := range got.events {
		assert.Equal(t, fmt.Sprintf("c%d", i), e.(ProbeError).CheckID)
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	var got recorder
	calls := 0
	bus.Subscribe("flaky", func(e Event) {
		calls++
		if calls == 1 {
			panic("first event explodes")
		}
		got.handle(e)
	})

	bus.Publish(ProbeError{CheckID: "a"})
	bus.Publish(ProbeError{CheckID: "b"})
	require.Eventually(t, func() bool { return len(got.types()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	var got recorder
	unsubscribe := bus.Subscribe("once", got.handle)
	bus.Publish(ProbeError{CheckID: "a"})
	unsubscribe()
	bus.Publish(ProbeError{CheckID: "b"})
	unsubscribe()

	assert.Len(t, got.types(), 1)
}

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	data, err := Encode(CriticalThreat{Threat: models.Threat{ID: "t9", Severity: models.SeverityCritical}, At: at})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "critical_threat", decoded["type"])
	assert.Equal(t, "t9", decoded["subject"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "critical", payload["threat"].(map[string]any)["severity"])
}

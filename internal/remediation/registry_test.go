package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/events"
	"github.com/miradorstack/mirador-autoops/internal/models"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(e events.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestRegistryRunIsBestEffort(t *testing.T) {
	registry := NewRegistry(nil, nil, nil)
	registry.Register("explode", HandlerFunc(func(context.Context, Request) (string, error) {
		return "", errors.New("boom")
	}))

	outcomes := registry.Run(context.Background(), []models.Action{
		{Kind: models.ActionBlockSource, Target: "10.0.0.8"},
		{Kind: "explode"},
		{Kind: "unregistered"},
		{Kind: models.ActionNotifyTeam},
	}, models.Attributes{"threat_id": "t1"})

	require.Len(t, outcomes, 4)
	assert.Equal(t, models.ActionCompleted, outcomes[0].Status)
	assert.Equal(t, models.ActionFailed, outcomes[1].Status)
	assert.Equal(t, "boom", outcomes[1].Error)
	assert.Equal(t, models.ActionFailed, outcomes[2].Status)
	assert.Contains(t, outcomes[2].Error, "no handler")
	assert.Equal(t, models.ActionCompleted, outcomes[3].Status)
}

func TestRegistryRecoversPanics(t *testing.T) {
	registry := NewRegistry(nil, nil, nil)
	registry.Register(models.ActionCustom, HandlerFunc(func(context.Context, Request) (string, error) {
		panic("handler bug")
	}))

	outcome := registry.RunOne(context.Background(), models.Action{Kind: models.ActionCustom}, nil)
	assert.Equal(t, models.ActionFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "panicked")
}

func TestRegistryCancelledContextFailsActions(t *testing.T) {
	registry := NewRegistry(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := registry.RunOne(ctx, models.Action{Kind: models.ActionScale}, nil)
	assert.Equal(t, models.ActionFailed, outcome.Status)
}

func TestNotifyPublishesNotification(t *testing.T) {
	pub := &capturePublisher{}
	registry := NewRegistry(pub, nil, nil)

	outcome := registry.RunOne(context.Background(),
		models.Action{Kind: models.ActionNotify, Target: "oncall"},
		models.Attributes{"check_id": "db-primary"})
	require.Equal(t, models.ActionCompleted, outcome.Status)

	require.Len(t, pub.events, 1)
	note, ok := pub.events[0].(events.Notification)
	require.True(t, ok)
	assert.Equal(t, "oncall", note.Subject())
	assert.Equal(t, "db-primary", note.Context["check_id"])
	assert.WithinDuration(t, time.Now(), note.At, time.Minute)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "api", containerName(Request{Action: models.Action{Target: "container:api"}}))
	assert.Equal(t, "db", containerName(Request{Action: models.Action{Target: "svc", Params: map[string]string{"container": "db"}}}))
	assert.Equal(t, "", containerName(Request{Action: models.Action{Target: "svc"}}))
}

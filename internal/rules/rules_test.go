package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

const samplePack = `
policies:
  - id: restart-api
    enabled: true
    priority: 1
    cooldown: 5m
    trigger:
      - field: kind
        op: eq
        value: service
    actions:
      - kind: restart
        target: container:api
responseRules:
  - id: block-intrusion
    enabled: true
    cooldown: 1m
    trigger:
      - field: category
        op: eq
        value: intrusion_attempt
    actions:
      - kind: block_source
`

type sink struct {
	mu       sync.Mutex
	policies map[string]models.SelfHealingPolicy
	rules    map[string]models.ResponseRule
}

func newSink() *sink {
	return &sink{policies: map[string]models.SelfHealingPolicy{}, rules: map[string]models.ResponseRule{}}
}

type policySink struct{ *sink }

func (s policySink) Put(_ context.Context, p models.SelfHealingPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

type ruleSink struct{ *sink }

func (s ruleSink) Put(_ context.Context, r models.ResponseRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *sink) policy(id string) (models.SelfHealingPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	return p, ok
}

func TestParsePack(t *testing.T) {
	pack, err := Parse([]byte(samplePack))
	require.NoError(t, err)

	require.Len(t, pack.Policies, 1)
	p := pack.Policies[0]
	assert.Equal(t, 5*time.Minute, p.Cooldown)
	assert.True(t, p.Trigger.Matches(models.Attributes{"kind": "service"}))
	assert.Equal(t, "container:api", p.Actions[0].Target)

	require.Len(t, pack.ResponseRules, 1)
	assert.Equal(t, models.ActionBlockSource, pack.ResponseRules[0].Actions[0].Kind)
}

func TestParseRejectsInvalidPacks(t *testing.T) {
	cases := map[string]string{
		"no actions":   "policies:\n  - id: a\n",
		"bad operator": "responseRules:\n  - id: r\n    trigger:\n      - field: category\n        op: like\n        value: x\n    actions:\n      - kind: log\n",
		"duplicate id": "policies:\n  - id: a\n    actions: [{kind: log}]\n  - id: a\n    actions: [{kind: log}]\n",
		"missing id":   "responseRules:\n  - actions: [{kind: log}]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	pack, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, pack.Policies)

	pack, err = Load("")
	require.NoError(t, err)
	assert.Empty(t, pack.ResponseRules)
}

func TestLoadBundledPack(t *testing.T) {
	pack, err := Load(filepath.Join("..", "..", "configs", "rules", "default.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, pack.Policies)
	assert.NotEmpty(t, pack.ResponseRules)
}

func TestApply(t *testing.T) {
	pack, err := Parse([]byte(samplePack))
	require.NoError(t, err)

	s := newSink()
	require.NoError(t, Apply(context.Background(), pack, policySink{s}, ruleSink{s}, nil))
	_, ok := s.policy("restart-api")
	assert.True(t, ok)
	assert.Contains(t, s.rules, "block-intrusion")
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePack), 0o600))

	s := newSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(ctx context.Context, pack *Pack) error {
			return Apply(ctx, pack, policySink{s}, ruleSink{s}, nil)
		}, nil)
	}()

	updated := samplePack + "\n" + `  - id: notify-traffic
    enabled: true
    trigger:
      - field: category
        op: eq
        value: traffic_anomaly
    actions:
      - kind: notify
`
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o600)
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.rules["notify-traffic"]
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

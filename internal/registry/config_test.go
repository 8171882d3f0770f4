package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct{}

func (fakeValidator) Type() string { return "fake" }

func (fakeValidator) Validate(config *InternalConfig) error {
	if config.Sessions.Namespace == "" {
		return errors.New("namespace is required")
	}
	return nil
}

func init() {
	RegisterValidator(fakeValidator{})
}

const baseYAML = `
database:
  host: db.local
  database: serenity
  username: app
`

func TestLoadFromYAMLKeepsDefaults(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte(baseYAML+`
broadcast:
  poll_interval: 250ms
auth:
  max_failures: 3
`)))

	cfg := cm.GetConfig()
	assert.Equal(t, "db.local", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, SessionsNone, cfg.Sessions.Type)
	assert.Equal(t, 250*time.Millisecond, cfg.Broadcast.PollInterval)
	assert.Equal(t, 500, cfg.Broadcast.Rate)
	assert.Equal(t, int64(3), cfg.Auth.MaxFailures)
	assert.Equal(t, 10*time.Minute, cfg.Auth.MaxAuthTime)
	assert.Equal(t, ".serenity", cfg.Migration.LogDir)
}

func TestLoadFromJSON(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadFromJSON([]byte(`{"database":{"host":"h","database":"d","username":"u"},"cleanup":{"interval":5000000000}}`)))
	assert.Equal(t, 5*time.Second, cm.GetConfig().Cleanup.Interval)
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		err  string
	}{
		{"missing database", "database:\n  host: h\n", "database.database is required"},
		{"bad queue", baseYAML + "broadcast:\n  queue_type: nats\n", "broadcast.queue_type"},
		{"kafka without topic", baseYAML + "broadcast:\n  queue_type: kafka\n  kafka_config:\n    topic: \"\"\n", "kafka_config.topic"},
		{"unknown sessions", baseYAML + "sessions:\n  type: etcd\n", "unsupported session store type: etcd"},
		{"strategy failure", baseYAML + "sessions:\n  type: fake\n  namespace: \"\"\n", "namespace is required"},
		{"auth", baseYAML + "auth:\n  max_failures: 0\n", "auth.max_failures"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewConfigManager().LoadFromYAML([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}

	require.NoError(t, NewConfigManager().LoadFromYAML([]byte(baseYAML+"sessions:\n  type: fake\n")))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SERENITY_DATABASE_HOST":           "pg",
		"SERENITY_DATABASE_PORT":           "6543",
		"SERENITY_SESSIONS_ENDPOINTS":      "a:1,b:2",
		"SERENITY_BROADCAST_POLL_INTERVAL": "2s",
		"SERENITY_AUTH_MAX_FAILURES":       "7",
		"SERENITY_BROADCAST_RATE":          "not-a-number",
	}
	cfg := DefaultInternalConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Sessions.RedisConfig.Endpoints)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.PollInterval)
	assert.Equal(t, int64(7), cfg.Auth.MaxFailures)
	assert.Equal(t, 500, cfg.Broadcast.Rate)
}

func TestRegisterValidatorTwicePanics(t *testing.T) {
	assert.Panics(t, func() { RegisterValidator(fakeValidator{}) })
	_, ok := GetValidator("fake")
	assert.True(t, ok)
}

func TestLifecycleHooks(t *testing.T) {
	lm := NewLifecycleManager()
	var calls []string
	lm.RegisterHook(LifecycleHookFunc{
		BeforeFunc: func(_ context.Context, schemes []string) error {
			calls = append(calls, "before:"+schemes[0])
			return nil
		},
	})
	lm.RegisterHook(LifecycleHookFunc{
		BeforeFunc: func(context.Context, []string) error { return errors.New("stop") },
		AfterFunc: func(_ context.Context, ev MigrationEvent) error {
			calls = append(calls, "after")
			return nil
		},
	})
	lm.RegisterHook(LifecycleHookFunc{
		BeforeFunc: func(context.Context, []string) error {
			calls = append(calls, "unreached")
			return nil
		},
	})

	assert.EqualError(t, lm.ExecuteBeforeHooks(context.Background(), []string{"users"}), "stop")
	require.NoError(t, lm.ExecuteAfterHooks(context.Background(), MigrationEvent{Statements: 2}))
	assert.Equal(t, []string{"before:users", "after"}, calls)
	assert.Equal(t, 3, lm.HookCount())
}

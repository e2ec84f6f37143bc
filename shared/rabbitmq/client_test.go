package rabbitmq

import (
	"context"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantVhost string
	}{
		{
			name: "default vhost",
			cfg:  Config{Host: "mq.internal", Port: 5673, User: "relay", Password: "pw", VHost: "/"},
		},
		{
			name: "empty vhost",
			cfg:  Config{Host: "mq.internal", Port: 5673, User: "relay", Password: "pw"},
		},
		{
			name:      "named vhost",
			cfg:       Config{Host: "mq.internal", Port: 5673, User: "relay", Password: "pw", VHost: "uploads"},
			wantVhost: "uploads",
		},
		{
			name: "reserved characters in password",
			cfg:  Config{Host: "mq.internal", Port: 5673, User: "relay", Password: "p@ss/w?rd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := amqp.ParseURI(tt.cfg.URI())
			require.NoError(t, err)

			assert.Equal(t, "amqp", parsed.Scheme)
			assert.Equal(t, tt.cfg.Host, parsed.Host)
			assert.Equal(t, tt.cfg.Port, parsed.Port)
			assert.Equal(t, tt.cfg.User, parsed.Username)
			assert.Equal(t, tt.cfg.Password, parsed.Password)
			if tt.wantVhost != "" {
				assert.Equal(t, tt.wantVhost, parsed.Vhost)
			}
		})
	}
}

func TestPublishConfig_BackOff(t *testing.T) {
	tests := []struct {
		name string
		cfg  PublishConfig
		want []time.Duration
	}{
		{
			name: "defaults",
			cfg:  PublishConfig{},
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		},
		{
			name: "gentle multiplier",
			cfg:  PublishConfig{InitialInterval: time.Second, Multiplier: 1.5},
			want: []time.Duration{time.Second, 1500 * time.Millisecond, 2250 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.cfg.backOff()
			b.Reset()
			for i, want := range tt.want {
				assert.InDelta(t, float64(want), float64(b.NextBackOff()), float64(time.Millisecond), "retry %d", i+1)
			}
		})
	}
}

func TestPublishConfig_Attempts(t *testing.T) {
	assert.Equal(t, 4, PublishConfig{}.attempts())
	assert.Equal(t, 2, PublishConfig{Attempts: 2}.attempts())
}

func TestConfig_DeadLetterQueue(t *testing.T) {
	cfg := Config{Queue: QueueConfig{Name: "upload_events"}}
	assert.Equal(t, "upload_events.dead", cfg.deadLetterQueue())
}

func newDisconnected() *Client {
	return &Client{config: &Config{}, logger: slog.New(slog.DiscardHandler)}
}

func TestPublishWithRetry_NotConnected(t *testing.T) {
	client := newDisconnected()

	err := client.PublishWithRetry(context.Background(), []byte(`{}`), "application/json")
	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.IsConnected())
}

func TestConsume_NotConnected(t *testing.T) {
	_, err := newDisconnected().Consume("worker-1")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestQos_NotConnected(t *testing.T) {
	assert.ErrorIs(t, newDisconnected().Qos(10), ErrNotConnected)
}

func TestClose_NothingOpen(t *testing.T) {
	client := newDisconnected()
	client.connected.Store(true)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}

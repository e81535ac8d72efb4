//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStreamSink_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})
	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	sink, err := NewRedisStreamSink(client, "test:events", 100)
	require.NoError(t, err)

	e, err := NewEnvelope(TypeExperimentFinished, "progress", "experiment:3", map[string]int{"experiment_id": 3})
	require.NoError(t, err)
	require.NoError(t, sink.Append(ctx, e))

	msgs, err := client.XRange(ctx, "test:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeExperimentFinished, msgs[0].Values["type"])

	var got Envelope
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["envelope"].(string)), &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.IdempotencyKey, got.IdempotencyKey)
}

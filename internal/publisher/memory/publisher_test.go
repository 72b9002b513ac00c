package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "etl-runs", map[string]string{"status": "succeeded"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "etl-audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "etl-runs", msgs[0].Topic)
	require.JSONEq(t, `{"status":"succeeded"}`, string(msgs[0].Data))

	msgs[0].Topic = "modified"
	require.Equal(t, "etl-runs", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic not found"))
	_, err := pub.Publish(context.Background(), "etl-runs", 1)
	require.EqualError(t, err, "topic not found")
	require.Empty(t, pub.Messages())

	_, err = New().Publish(context.Background(), "etl-runs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

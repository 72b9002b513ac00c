package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "raw"})
	require.ErrorContains(t, err, "storage client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: "  "})
	require.ErrorContains(t, err, "archive bucket is required")

	store, err := New(client, Config{Bucket: "raw"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "/", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}

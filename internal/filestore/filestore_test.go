package filestore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docqa/internal/config"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	store, err := New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": dir}})
	require.NoError(t, err)
	ctx := context.Background()

	keys, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	data := []byte("The capital of France is Paris.")
	require.NoError(t, store.Save(ctx, "france.txt", bytes.NewReader(data), int64(len(data))))
	require.NoError(t, store.Save(ctx, "a.md", bytes.NewReader([]byte("# A")), 3))

	keys, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a.md", "france.txt"}, keys)

	rc, err := store.Open(ctx, "france.txt")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, data, got)
	require.Equal(t, filepath.Join(dir, "france.txt"), store.Path("france.txt"))

	_, err = store.Open(ctx, "missing.txt")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "france.txt"))
	require.NoError(t, store.Delete(ctx, "france.txt"))
	require.ErrorIs(t, store.Delete(ctx, "../france.txt"), appErr.ErrInvalid)
	keys, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a.md"}, keys)
	_, err = store.Open(ctx, "france.txt")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", " ", "..", "../x", "a/b", `a\b`, ".hidden"} {
		require.ErrorIs(t, ValidateKey(bad), appErr.ErrInvalid, bad)
	}
	require.NoError(t, ValidateKey("report-2024.txt"))
}

func TestNewStoreErrors(t *testing.T) {
	_, err := New(config.FileStoreConfig{})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "ftp", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "s3", Data: map[string]interface{}{"bucket": "b"}})
	require.Error(t, err)
}

func TestS3KeyMapping(t *testing.T) {
	s := &s3Store{bucket: "docs", prefix: "inbox"}
	require.Equal(t, "inbox/a.txt", s.objectKey("a.txt"))
	require.Equal(t, "s3://docs/inbox/a.txt", s.Path("a.txt"))
	require.Equal(t, "a.txt", s.keyOf("inbox/a.txt"))
	require.Empty(t, s.keyOf("other/a.txt"))
	require.Empty(t, s.keyOf("inbox/nested/a.txt"))

	flat := &s3Store{bucket: "docs"}
	require.Equal(t, "a.txt", flat.objectKey("a.txt"))
	require.Equal(t, "a.txt", flat.keyOf("a.txt"))
}

package extract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Batch(t *testing.T) {
	f := writeFixture(t, "")
	svc := f.service(t)
	missing := filepath.Join(f.dir, "missing.yaml")

	items, err := svc.Batch(context.Background(), []string{f.manifest, missing, f.manifest}, 2)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, f.manifest, items[0].Path)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, "Jane Doe", items[0].Result.Fields["Name"])

	assert.Equal(t, missing, items[1].Path)
	assert.Nil(t, items[1].Result)
	assert.NotEmpty(t, items[1].Error)

	require.NotNil(t, items[2].Result)
	assert.NotEqual(t, items[0].Result.RunID, items[2].Result.RunID)
}

func TestService_BatchCancelled(t *testing.T) {
	f := writeFixture(t, "")
	svc := f.service(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := svc.Batch(ctx, []string{f.manifest, f.manifest}, 0)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Nil(t, it.Result)
		assert.NotEmpty(t, it.Error)
	}
}

package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/types"
)

func record(kind types.Kind, id string) types.Record {
	r := types.NewRecord(kind, id, "123456789012", "platform", "us-east-1")
	r.MonthlyCost = 10
	return r
}

func TestAppendRun(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	rev, err := j.AppendRun([]types.Record{
		record(types.KindComputeInstance, "i-1"),
		record(types.KindBucket, "logs"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, int64(1), j.CurrentRevision())

	records, err := j.Run(rev)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	latest := j.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "compute_instance#i-1", latest[0].Key)
}

func TestDisappearedMarkedGone(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	_, err = j.AppendRun([]types.Record{
		record(types.KindComputeInstance, "i-1"),
		record(types.KindComputeInstance, "i-2"),
	})
	require.NoError(t, err)

	_, err = j.AppendRun([]types.Record{record(types.KindComputeInstance, "i-1")})
	require.NoError(t, err)

	latest := j.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "compute_instance#i-1", latest[0].Key)
	assert.Equal(t, int64(1), latest[0].FirstSeenRev)
	assert.Equal(t, int64(2), latest[0].LastSeenRev)
}

func TestDiff(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	_, err = j.AppendRun([]types.Record{
		record(types.KindComputeInstance, "i-1"),
		record(types.KindComputeInstance, "i-2"),
	})
	require.NoError(t, err)

	_, err = j.AppendRun([]types.Record{
		record(types.KindComputeInstance, "i-1"),
		record(types.KindFunction, "fn-1"),
	})
	require.NoError(t, err)

	added, removed, err := j.Diff(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"function#fn-1"}, added)
	assert.Equal(t, []string{"compute_instance#i-2"}, removed)
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	_, err = j.AppendRun([]types.Record{record(types.KindComputeInstance, "i-1")})
	require.NoError(t, err)
	_, err = j.AppendRun([]types.Record{record(types.KindFunction, "fn-1")})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, int64(2), j.CurrentRevision())

	// Only the newest run's resources survive as present.
	latest := j.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "function#fn-1", latest[0].Key)
}

func TestCompact(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 3; i++ {
		_, err = j.AppendRun([]types.Record{record(types.KindComputeInstance, "i-1")})
		require.NoError(t, err)
	}

	require.NoError(t, j.Compact(1))

	records, err := j.Run(1)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = j.Run(3)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

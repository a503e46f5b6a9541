package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

const testDataPath = "data/db.bin"

func openTestDatabase(t *testing.T, fs afero.Fs, items int) *Database {
	t.Helper()

	db, err := Open(fs, testDataPath, items, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	return db
}

func TestOpenCreatesDefaultFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := openTestDatabase(t, fs, 4)

	assert.Equal(t, []common.Value{0, 0, 0, 0}, db.Snapshot())

	data, err := afero.ReadFile(fs, testDataPath)
	require.NoError(t, err)
	assert.Len(t, data, 4*valueSize)
}

func TestOpenSeedsFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, writeDataFile(fs, testDataPath, []common.Value{3, 1, 4}))

	db := openTestDatabase(t, fs, 3)
	assert.Equal(t, []common.Value{3, 1, 4}, db.Snapshot())
}

func TestOpenReinitializesMalformedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testDataPath, []byte("0101"), 0o600))

	db := openTestDatabase(t, fs, 2)
	assert.Equal(t, []common.Value{0, 0}, db.Snapshot())

	data, err := afero.ReadFile(fs, testDataPath)
	require.NoError(t, err)
	assert.Len(t, data, 2*valueSize)
}

func TestOpenRejectsEmptyDatabase(t *testing.T) {
	_, err := Open(afero.NewMemMapFs(), testDataPath, 0, common.NopLogger())
	require.Error(t, err)
}

func TestReadYourOwnWrites(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs(), 8)

	require.NoError(t, db.Write(1, 5, 42))

	v, err := db.Read(1, 5)
	require.NoError(t, err)
	assert.Equal(t, common.Value(42), v, "writer sees its buffered value")

	v, err = db.Read(2, 5)
	require.NoError(t, err)
	assert.Equal(t, common.Value(0), v, "other transactions see committed state")

	assert.Equal(t, []common.TxnID{1}, db.PendingWriters())
}

func TestCommitWritesPersists(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := openTestDatabase(t, fs, 4)

	require.NoError(t, db.Write(1, 0, 7))
	require.NoError(t, db.Write(1, 3, 9))
	require.NoError(t, db.CommitWrites(1))

	assert.Equal(t, []common.Value{7, 0, 0, 9}, db.Snapshot())
	assert.Empty(t, db.PendingWriters())

	reopened := openTestDatabase(t, fs, 4)
	assert.Equal(t, []common.Value{7, 0, 0, 9}, reopened.Snapshot())
}

func TestCommitWithoutWritesIsNoop(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs(), 2)
	require.NoError(t, db.CommitWrites(17))
	assert.Equal(t, []common.Value{0, 0}, db.Snapshot())
}

func TestDiscardWrites(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs(), 4)

	require.NoError(t, db.Write(1, 2, 5))
	db.DiscardWrites(1)

	v, err := db.Read(1, 2)
	require.NoError(t, err)
	assert.Equal(t, common.Value(0), v)
	assert.Empty(t, db.PendingWriters())
}

func TestInstallAndPersist(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := openTestDatabase(t, fs, 3)

	require.NoError(t, db.Install(1, 11))
	require.NoError(t, db.Install(1, 11))
	assert.Equal(t, []common.Value{0, 11, 0}, db.Snapshot())

	before := openTestDatabase(t, fs, 3)
	assert.Equal(t, []common.Value{0, 0, 0}, before.Snapshot(), "install alone is not durable")

	require.NoError(t, db.Persist())
	after := openTestDatabase(t, fs, 3)
	assert.Equal(t, []common.Value{0, 11, 0}, after.Snapshot())
}

func TestItemOutOfRange(t *testing.T) {
	db := openTestDatabase(t, afero.NewMemMapFs(), 2)

	_, err := db.Read(1, 2)
	require.ErrorIs(t, err, ErrItemOutOfRange)
	require.ErrorIs(t, db.Write(1, 9, 1), ErrItemOutOfRange)
	require.ErrorIs(t, db.Install(5, 1), ErrItemOutOfRange)
}

func TestCloseDropsPendingWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := openTestDatabase(t, fs, 2)

	require.NoError(t, db.Write(3, 1, 99))
	require.NoError(t, db.Install(0, 4))
	require.NoError(t, db.Close())

	reopened := openTestDatabase(t, fs, 2)
	assert.Equal(t, []common.Value{4, 0}, reopened.Snapshot())
}

package engine

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/recovery"
	"github.com/Blackdeer1524/txnsim/src/storage"
	"github.com/Blackdeer1524/txnsim/src/txns"
)

func testConfig() Config {
	return Config{
		DataPath: "data/db.bin",
		LogPath:  "data/log.jsonl",
		Items:    8,
		Timeout:  optional.Some[common.Tick](3),
	}
}

func openEngine(t *testing.T, fs afero.Fs, c Config) *Engine {
	t.Helper()

	e, err := Open(fs, c, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	_, err = e.Recover(context.Background())
	require.NoError(t, err)

	return e
}

func begin(t *testing.T, e *Engine) common.TxnID {
	t.Helper()
	txnID, err := e.Begin()
	require.NoError(t, err)
	return txnID
}

func TestOpenRejectsUnknownPolicy(t *testing.T) {
	c := testConfig()
	c.VictimPolicy = "oldest"

	_, err := Open(afero.NewMemMapFs(), c, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestReadWriteCommit(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openEngine(t, fs, testConfig())

	t1 := begin(t, e)
	status, err := e.Write(t1, 2, 42)
	require.NoError(t, err)
	require.Equal(t, txns.LockGranted, status)

	v, status, err := e.Read(t1, 2)
	require.NoError(t, err)
	require.Equal(t, txns.LockGranted, status)
	assert.Equal(t, common.Value(42), v, "reads its own writes")
	assert.Equal(t, common.Value(0), e.Snapshot()[2], "not visible before commit")

	require.NoError(t, e.Commit(t1))
	assert.Equal(t, common.Value(42), e.Snapshot()[2])
	assert.Empty(t, e.HeldLocks(t1))

	state, ok := e.State(t1)
	require.True(t, ok)
	assert.Equal(t, common.TxnCommitted, state)

	records, err := e.ReadLog()
	require.NoError(t, err)
	assert.Equal(t, []recovery.LogRecord{
		recovery.NewStartLogRecord(1, t1),
		recovery.NewUpdateLogRecord(2, t1, 2, 0, 42),
		recovery.NewCommitLogRecord(3, t1),
	}, records)

	require.ErrorIs(t, e.Commit(t1), ErrTxnEnded)
	_, _, err = e.Read(42, 0)
	require.ErrorIs(t, err, ErrUnknownTxn)
	_, err = e.Write(begin(t, e), 100, 1)
	require.ErrorIs(t, err, storage.ErrItemOutOfRange)
}

func TestConflictingWriterWaits(t *testing.T) {
	e := openEngine(t, afero.NewMemMapFs(), testConfig())

	t1, t2 := begin(t, e), begin(t, e)

	status, err := e.Write(t1, 5, 1)
	require.NoError(t, err)
	require.Equal(t, txns.LockGranted, status)

	_, status, err = e.Read(t2, 5)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)
	assert.True(t, e.IsBlocked(t2))

	_, err = e.Write(t2, 6, 1)
	require.ErrorIs(t, err, ErrTxnBlocked)
	require.ErrorIs(t, e.Commit(t2), ErrTxnBlocked)

	require.NoError(t, e.Commit(t1))

	v, status, err := e.Read(t2, 5)
	require.NoError(t, err)
	require.Equal(t, txns.LockGranted, status)
	assert.Equal(t, common.Value(1), v)
}

func TestRollback(t *testing.T) {
	e := openEngine(t, afero.NewMemMapFs(), testConfig())

	t1 := begin(t, e)
	_, err := e.Write(t1, 1, 9)
	require.NoError(t, err)
	require.NoError(t, e.Rollback(t1))

	assert.Equal(t, common.Value(0), e.Snapshot()[1])
	assert.Empty(t, e.HeldLocks(t1))
	state, _ := e.State(t1)
	assert.Equal(t, common.TxnAborted, state)
	require.ErrorIs(t, e.Rollback(t1), ErrTxnEnded)
}

func TestTickBreaksDeadlock(t *testing.T) {
	e := openEngine(t, afero.NewMemMapFs(), testConfig())

	t1, t2 := begin(t, e), begin(t, e)
	_, err := e.Write(t1, 1, 10)
	require.NoError(t, err)
	_, err = e.Write(t2, 2, 20)
	require.NoError(t, err)

	status, err := e.Write(t1, 2, 11)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)
	status, err = e.Write(t2, 1, 21)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)

	aborts, err := e.Tick(1)
	require.NoError(t, err)
	require.Len(t, aborts, 1)
	assert.Equal(t, txns.AbortDeadlock, aborts[0].Reason)

	victim := aborts[0].TxnID
	survivor := t1
	if victim == t1 {
		survivor = t2
	}

	state, _ := e.State(victim)
	assert.Equal(t, common.TxnAborted, state)
	assert.False(t, e.IsBlocked(survivor))
}

func TestTickTimesOutWaiters(t *testing.T) {
	e := openEngine(t, afero.NewMemMapFs(), testConfig())

	t1, t2, t3 := begin(t, e), begin(t, e), begin(t, e)
	_, err := e.Write(t1, 1, 10)
	require.NoError(t, err)
	_, err = e.Write(t2, 2, 20)
	require.NoError(t, err)

	_, err = e.Tick(1)
	require.NoError(t, err)
	status, err := e.Write(t2, 1, 21)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)
	_, status, err = e.Read(t3, 2)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)

	for now := common.Tick(2); now <= 4; now++ {
		aborts, err := e.Tick(now)
		require.NoError(t, err)
		require.Empty(t, aborts)
	}

	aborts, err := e.Tick(5)
	require.NoError(t, err)
	require.Len(t, aborts, 1)
	assert.Equal(t, txns.Abort{TxnID: t2, Reason: txns.AbortTimeout, Item: 1}, aborts[0])

	// T2's lock on item 2 went away with it
	v, status, err := e.Read(t3, 2)
	require.NoError(t, err)
	require.Equal(t, txns.LockGranted, status)
	assert.Equal(t, common.Value(0), v)
}

func TestTickZeroTimeoutExpiresAnyWait(t *testing.T) {
	c := testConfig()
	c.Timeout = optional.Some[common.Tick](0)
	e := openEngine(t, afero.NewMemMapFs(), c)

	t1, t2 := begin(t, e), begin(t, e)
	_, err := e.Write(t1, 5, 1)
	require.NoError(t, err)
	_, status, err := e.Read(t2, 5)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)

	aborts, err := e.Tick(0)
	require.NoError(t, err)
	require.Empty(t, aborts)

	aborts, err = e.Tick(1)
	require.NoError(t, err)
	assert.Equal(t, []txns.Abort{{TxnID: t2, Reason: txns.AbortTimeout, Item: 5}}, aborts)
	assert.Equal(t, map[common.ItemID]txns.LockMode{5: txns.LOCK_EXCLUSIVE}, e.HeldLocks(t1))
}

func TestTickWithoutTimeoutKeepsWaiting(t *testing.T) {
	c := testConfig()
	c.Timeout = optional.None[common.Tick]()
	e := openEngine(t, afero.NewMemMapFs(), c)

	t1, t2 := begin(t, e), begin(t, e)
	_, err := e.Write(t1, 5, 1)
	require.NoError(t, err)
	_, status, err := e.Read(t2, 5)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)

	aborts, err := e.Tick(1000)
	require.NoError(t, err)
	assert.Empty(t, aborts)
	assert.True(t, e.IsBlocked(t2))
}

func TestCrashAndRecover(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := openEngine(t, fs, testConfig())

	t1, t2 := begin(t, e), begin(t, e)
	_, err := e.Write(t1, 0, 7)
	require.NoError(t, err)
	require.NoError(t, e.Commit(t1))
	_, err = e.Write(t2, 1, 8)
	require.NoError(t, err)

	// crash with T2 unfinished
	require.NoError(t, e.Close())

	again := openEngine(t, fs, testConfig())
	snap := again.Snapshot()
	assert.Equal(t, common.Value(7), snap[0])
	assert.Equal(t, common.Value(0), snap[1])

	t3 := begin(t, again)
	assert.Greater(t, t3, t2, "ids are not reused after recovery")
}

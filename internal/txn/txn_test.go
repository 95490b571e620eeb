package txn_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/txn"
)

func TestModePermissions(t *testing.T) {
	tx := txn.New(1, txn.ReadOnly, 1)
	require.NoError(t, tx.RequireReadable())
	require.Error(t, tx.RequireWritable())

	tx2 := txn.New(2, txn.WriteOnly, 1)
	require.Error(t, tx2.RequireReadable())
	require.NoError(t, tx2.RequireWritable())
}

func TestUndoLogReverseOrder(t *testing.T) {
	tx := txn.New(1, txn.ReadWrite, 1)
	tx.RecordInsert([]byte("a"))
	tx.RecordUpdate([]byte("b"), []byte("old-b"))
	tx.RecordDelete([]byte("c"), []byte("old-c"))

	reversed := tx.UndoLogReversed()
	require.Len(t, reversed, 3)
	require.Equal(t, txn.OpDelete, reversed[0].Op)
	require.Equal(t, txn.OpUpdate, reversed[1].Op)
	require.Equal(t, txn.OpInsert, reversed[2].Op)
}

func TestCommitDiscardsUndoLog(t *testing.T) {
	tx := txn.New(1, txn.ReadWrite, 1)
	tx.RecordInsert([]byte("a"))
	require.NoError(t, tx.MarkCommitted())
	require.Empty(t, tx.UndoLog)
	require.Equal(t, txn.Committed, tx.State)
}

func TestCommitTwiceFails(t *testing.T) {
	tx := txn.New(1, txn.ReadWrite, 1)
	require.NoError(t, tx.MarkCommitted())
	err := tx.MarkCommitted()
	require.True(t, errors.Is(err, serr.ErrTransactionNotActive))
}

func TestAbortOnTerminatedTransaction(t *testing.T) {
	tx := txn.New(1, txn.ReadWrite, 1)
	require.NoError(t, tx.MarkAborted())
	err := tx.MarkAborted()
	require.True(t, errors.Is(err, serr.ErrTransactionNotActive))
}

package lock_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	serr "github.com/govetachun/shimmer/internal/errors"
	"github.com/govetachun/shimmer/internal/lock"
)

func TestSharedLocksDoNotBlock(t *testing.T) {
	m := lock.NewManager(nil)
	res := lock.MakeResourceID(lock.KindPage, 0, 1)
	require.NoError(t, m.Acquire(1, lock.KindPage, res, lock.S, time.Second))
	require.NoError(t, m.Acquire(2, lock.KindPage, res, lock.S, time.Second))
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := lock.NewManager(nil)
	res := lock.MakeResourceID(lock.KindPage, 0, 1)
	require.NoError(t, m.Acquire(1, lock.KindPage, res, lock.X, time.Second))

	err := m.Acquire(2, lock.KindPage, res, lock.S, 100*time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.Is(err, serr.ErrLockTimeout))
}

func TestUpgradeInPlace(t *testing.T) {
	m := lock.NewManager(nil)
	res := lock.MakeResourceID(lock.KindPage, 0, 1)
	require.NoError(t, m.Acquire(1, lock.KindPage, res, lock.IS, time.Second))
	require.NoError(t, m.Acquire(1, lock.KindPage, res, lock.X, time.Second))
}

func TestReleasePromotesWaiters(t *testing.T) {
	m := lock.NewManager(nil)
	res := lock.MakeResourceID(lock.KindPage, 0, 1)
	require.NoError(t, m.Acquire(1, lock.KindPage, res, lock.X, time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	var acquireErr error
	go func() {
		defer wg.Done()
		acquireErr = m.Acquire(2, lock.KindPage, res, lock.S, 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	m.Release(1, res)
	wg.Wait()
	require.NoError(t, acquireErr)
}

func TestDeadlockDetection(t *testing.T) {
	m := lock.NewManager(nil)
	page1 := lock.MakeResourceID(lock.KindPage, 0, 1)
	page2 := lock.MakeResourceID(lock.KindPage, 0, 2)

	require.NoError(t, m.Acquire(10, lock.KindPage, page1, lock.X, time.Second))
	require.NoError(t, m.Acquire(20, lock.KindPage, page2, lock.X, time.Second))

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = m.Acquire(10, lock.KindPage, page2, lock.S, 2*time.Second)
	}()
	go func() {
		defer wg.Done()
		errB = m.Acquire(20, lock.KindPage, page1, lock.S, 2*time.Second)
	}()
	wg.Wait()

	// exactly one of the two fails with DeadlockDetected; the other
	// eventually progresses because the victim's locks were released.
	deadlocks := 0
	for _, err := range []error{errA, errB} {
		if err != nil {
			require.True(t, errors.Is(err, serr.ErrDeadlockDetected))
			deadlocks++
		}
	}
	require.Equal(t, 1, deadlocks)
}

func TestReleaseAllIsSafeToIterate(t *testing.T) {
	m := lock.NewManager(nil)
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, m.Acquire(1, lock.KindPage, lock.MakeResourceID(lock.KindPage, 0, i), lock.X, time.Second))
	}
	m.ReleaseAll(1)
	snap := m.Snapshot()
	for _, n := range snap.Granted {
		require.Equal(t, 0, n)
	}
}

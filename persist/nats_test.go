package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	enstest "github.com/hpcoord/ensemble/testing"
)

// Several processes may open the checkpoint bucket at once: a resumed
// manager, the run it replaced, inspection tooling. Every open must succeed
// and land on the same bucket.
func TestNewNATSStore_ConcurrentOpen(t *testing.T) {
	_, nc := enstest.StartEmbeddedNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const openers = 5
	stores := make([]*NATSStore, openers)
	errs := make([]error, openers)

	var wg sync.WaitGroup
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			stores[idx], errs[idx] = NewNATSStore(ctx, nc, "shared-checkpoints")
		}(i)
	}
	wg.Wait()

	for i := 0; i < openers; i++ {
		require.NoError(t, errs[i], "opener %d", i)
		require.NotNil(t, stores[i], "opener %d", i)
	}

	// All handles see the same data.
	require.NoError(t, stores[0].Save(ctx, "run-x", []byte("ledger")))
	for i := 1; i < openers; i++ {
		got, err := stores[i].Load(ctx, "run-x")
		require.NoError(t, err)
		require.Equal(t, []byte("ledger"), got)
	}
}

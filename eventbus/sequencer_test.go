package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSequenceSource struct {
	mu  sync.Mutex
	max map[string]int64
}

func (f *fakeSequenceSource) MaxSequence(_ context.Context, workflowID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max[workflowID], nil
}

func TestSequencerStartsAtOneForNewWorkflow(t *testing.T) {
	s := NewSequencer(&fakeSequenceSource{max: map[string]int64{}})
	n, err := s.Next(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSequencerIncrementsMonotonically(t *testing.T) {
	s := NewSequencer(&fakeSequenceSource{max: map[string]int64{}})
	ctx := context.Background()
	for want := int64(1); want <= 5; want++ {
		n, err := s.Next(ctx, "wf-1")
		require.NoError(t, err)
		require.Equal(t, want, n)
	}
}

func TestSequencerResumesFromStoreOnRecovery(t *testing.T) {
	s := NewSequencer(&fakeSequenceSource{max: map[string]int64{"wf-1": 7}})
	n, err := s.Next(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), n)
}

func TestSequencerTracksCountersIndependentlyPerWorkflow(t *testing.T) {
	s := NewSequencer(&fakeSequenceSource{max: map[string]int64{}})
	ctx := context.Background()

	n1, err := s.Next(ctx, "wf-1")
	require.NoError(t, err)
	n2, err := s.Next(ctx, "wf-2")
	require.NoError(t, err)

	require.Equal(t, int64(1), n1)
	require.Equal(t, int64(1), n2)
}

func TestSequencerForgetDropsCounter(t *testing.T) {
	source := &fakeSequenceSource{max: map[string]int64{}}
	s := NewSequencer(source)
	ctx := context.Background()

	_, err := s.Next(ctx, "wf-1")
	require.NoError(t, err)
	_, err = s.Next(ctx, "wf-1")
	require.NoError(t, err)

	s.Forget("wf-1")
	source.max["wf-1"] = 100

	n, err := s.Next(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, int64(101), n)
}

func TestSequencerConcurrentNextNeverDuplicates(t *testing.T) {
	s := NewSequencer(&fakeSequenceSource{max: map[string]int64{}})
	ctx := context.Background()

	const goroutines = 20
	results := make(chan int64, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			n, err := s.Next(ctx, "wf-race")
			require.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		require.False(t, seen[n], "sequence %d assigned more than once", n)
		seen[n] = true
	}
	require.Len(t, seen, goroutines)
}

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ai/sentinel/signal"
)

// fakeSource implements signal.Source with a scripted outcome.
type fakeSource struct {
	name   string
	score  float64
	delay  time.Duration
	err    error
	ignore bool // ignore context cancellation until delay elapses
}

func (f *fakeSource) Name() string                  { return f.name }
func (f *fakeSource) TypicalLatency() time.Duration { return f.delay }
func (f *fakeSource) MaxLatency() time.Duration     { return f.delay * 2 }

func (f *fakeSource) Analyze(ctx context.Context, text string) (signal.CrisisSignal, error) {
	if f.delay > 0 {
		if f.ignore {
			time.Sleep(f.delay)
		} else {
			select {
			case <-ctx.Done():
				return signal.CrisisSignal{}, ctx.Err()
			case <-time.After(f.delay):
			}
		}
	}
	if f.err != nil {
		return signal.CrisisSignal{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return signal.CrisisSignal{}, err
	}
	return signal.CrisisSignal{
		Source:      f.name,
		RawLabel:    "label",
		RawScore:    f.score,
		CrisisScore: f.score,
		Status:      signal.StatusOK,
	}, nil
}

func TestDispatchAllOK(t *testing.T) {
	d := New(200 * time.Millisecond)
	srcs := []signal.Source{
		&fakeSource{name: "primary", score: 0.9},
		&fakeSource{name: "sentiment", score: 0.7},
		&fakeSource{name: "irony", score: 0.95},
		&fakeSource{name: "emotion", score: 0.6},
	}

	set, err := d.Dispatch(context.Background(), "text", srcs)
	require.NoError(t, err)
	require.Len(t, set.Signals, 4)
	assert.Len(t, set.OK(), 4)
	assert.Empty(t, set.Failed())

	// Signals come back in source order regardless of completion order.
	assert.Equal(t, "primary", set.Signals[0].Source)
	assert.Equal(t, "emotion", set.Signals[3].Source)
}

func TestDispatchPartialTimeout(t *testing.T) {
	d := New(50 * time.Millisecond)
	srcs := []signal.Source{
		&fakeSource{name: "primary", score: 0.9, delay: 500 * time.Millisecond},
		&fakeSource{name: "sentiment", score: 0.75},
	}

	set, err := d.Dispatch(context.Background(), "text", srcs)
	require.NoError(t, err)

	slow, ok := set.Get("primary")
	require.True(t, ok)
	assert.Equal(t, signal.StatusTimeout, slow.Status)
	assert.False(t, slow.OK())

	fast, ok := set.Get("sentiment")
	require.True(t, ok)
	assert.Equal(t, signal.StatusOK, fast.Status)
	assert.Equal(t, []string{"primary"}, set.Failed())
}

func TestDispatchSourceError(t *testing.T) {
	d := New(100 * time.Millisecond)
	srcs := []signal.Source{
		&fakeSource{name: "primary", err: errors.New("model exploded")},
		&fakeSource{name: "sentiment", score: 0.5},
	}

	set, err := d.Dispatch(context.Background(), "text", srcs)
	require.NoError(t, err)

	failed, ok := set.Get("primary")
	require.True(t, ok)
	assert.Equal(t, signal.StatusError, failed.Status)
	assert.Contains(t, failed.Err, "model exploded")
}

func TestDispatchAllFailed(t *testing.T) {
	d := New(50 * time.Millisecond)
	srcs := []signal.Source{
		&fakeSource{name: "primary", err: errors.New("down")},
		&fakeSource{name: "sentiment", delay: 500 * time.Millisecond},
	}

	set, err := d.Dispatch(context.Background(), "text", srcs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUsableSignals)
	assert.Empty(t, set.OK())
	assert.Len(t, set.Failed(), 2)
}

func TestDispatchCallerCancellation(t *testing.T) {
	d := New(5 * time.Second)
	srcs := []signal.Source{
		&fakeSource{name: "primary", score: 0.9, delay: 2 * time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx, "text", srcs)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "dispatch must not wait out the full source delay")
}

func TestDispatchDoesNotBlockOnStubbornSource(t *testing.T) {
	// A source that ignores its context entirely must not stall collection
	// past the deadline.
	d := New(30 * time.Millisecond)
	srcs := []signal.Source{
		&fakeSource{name: "primary", score: 0.9, delay: 300 * time.Millisecond, ignore: true},
		&fakeSource{name: "sentiment", score: 0.6},
	}

	start := time.Now()
	set, err := d.Dispatch(context.Background(), "text", srcs)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	stubborn, ok := set.Get("primary")
	require.True(t, ok)
	assert.Equal(t, signal.StatusTimeout, stubborn.Status)
}

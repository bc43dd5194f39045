package monitor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (o *recordingObserver) OnConnect(*gousb.DeviceDesc)    { o.connects.Add(1) }
func (o *recordingObserver) OnDisconnect(*gousb.DeviceDesc) { o.disconnects.Add(1) }

func presenceFinder(present *atomic.Bool) Finder {
	desc := &gousb.DeviceDesc{}
	return func() (*gousb.DeviceDesc, error) {
		if present.Load() {
			return desc, nil
		}
		return nil, nil
	}
}

func TestMonitor_EdgeTriggered(t *testing.T) {
	var present atomic.Bool
	obs := &recordingObserver{}
	m := New(presenceFinder(&present), obs, WithInterval(2*time.Millisecond))
	m.Start()
	defer m.Stop()

	// Absent at start: no notifications on unchanged state.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), obs.connects.Load())
	assert.Equal(t, int32(0), obs.disconnects.Load())

	present.Store(true)
	require.Eventually(t, func() bool {
		return obs.connects.Load() == 1
	}, time.Second, time.Millisecond)

	// Present stays present: still exactly one connect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), obs.connects.Load())

	present.Store(false)
	require.Eventually(t, func() bool {
		return obs.disconnects.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestMonitor_FinderErrorsRetried(t *testing.T) {
	var calls atomic.Int32
	find := func() (*gousb.DeviceDesc, error) {
		calls.Add(1)
		return nil, errors.New("enumeration failed")
	}
	obs := &recordingObserver{}
	m := New(find, obs, WithInterval(time.Millisecond))
	m.Start()
	defer m.Stop()

	// The loop keeps polling through errors without notifying.
	require.Eventually(t, func() bool {
		return calls.Load() > 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), obs.connects.Load())
}

func TestMonitor_StopIsNotJoining(t *testing.T) {
	var present atomic.Bool
	present.Store(true)
	obs := &recordingObserver{}

	cleaned := make(chan struct{})
	m := New(presenceFinder(&present), obs,
		WithInterval(time.Millisecond),
		WithCleanup(func() { close(cleaned) }))
	m.Start()

	require.Eventually(t, func() bool {
		return obs.connects.Load() == 1
	}, time.Second, time.Millisecond)

	m.Stop()

	// One late notification may still arrive after Stop; never more.
	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("poll loop did not exit")
	}
	assert.LessOrEqual(t, obs.disconnects.Load(), int32(1))
}

func TestMonitor_StartIdempotent(t *testing.T) {
	var present atomic.Bool
	obs := &recordingObserver{}
	m := New(presenceFinder(&present), obs, WithInterval(time.Millisecond))
	m.Start()
	m.Start()
	defer m.Stop()

	present.Store(true)
	require.Eventually(t, func() bool {
		return obs.connects.Load() >= 1
	}, time.Second, time.Millisecond)
	// A duplicated loop would double-notify the same edge.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), obs.connects.Load())
}

package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btscan/btscan/agent/internal/payload"
	"github.com/btscan/btscan/agent/internal/sighting"
	"github.com/btscan/btscan/agent/internal/sink"
	"github.com/btscan/btscan/pkg/telemetry"
)

var t0 = time.Unix(1_700_000_000, 0)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func sight(addr uint64, rssi int32, data ...byte) sighting.Sighting {
	return sighting.Sighting{
		Address: addr,
		Kind:    sighting.Public,
		RSSI:    rssi,
		Payload: payload.MustNew(data...),
	}
}

func TestUpdate_InsertsDirty(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(sight(0x1, -50, 0xAA), at(0)))

	e, ok := c.Get(0x1)
	require.True(t, ok)
	assert.True(t, e.Dirty)
	assert.Equal(t, at(0), e.LastSeen)
	assert.Equal(t, int32(-50), e.Latest.RSSI)
	assert.Equal(t, 1, c.Len())
}

func TestUpdate_RSSIOnlyChangeIsClean(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(sight(0x1, -50, 0xAA, 0xBB), at(0)))
	require.NoError(t, c.Update(sight(0x1, -72, 0xAA, 0xBB), at(3)))

	e, _ := c.Get(0x1)
	assert.False(t, e.Dirty)
	assert.Equal(t, int32(-72), e.Latest.RSSI)
	assert.Equal(t, at(3), e.LastSeen)
}

func TestUpdate_PayloadChangeIsDirty(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(sight(0x1, -50, 0xAA), at(0)))
	require.NoError(t, c.Update(sight(0x1, -50, 0xAA), at(1)))
	require.NoError(t, c.Update(sight(0x1, -50, 0xAA, 0x01), at(2)))

	e, _ := c.Get(0x1)
	assert.True(t, e.Dirty)
	assert.True(t, e.Latest.Payload.Equal(payload.MustNew(0xAA, 0x01)))
}

func TestUpdate_KindChangeIsDirty(t *testing.T) {
	c := New()
	s := sight(0x1, -50, 0xAA)
	require.NoError(t, c.Update(s, at(0)))
	require.NoError(t, c.Update(s, at(1)))
	s.Kind = sighting.Private
	require.NoError(t, c.Update(s, at(2)))

	e, _ := c.Get(0x1)
	assert.True(t, e.Dirty)
	assert.Equal(t, sighting.Private, e.Latest.Kind)
}

func TestUpdate_CapacityExhausted(t *testing.T) {
	c := New(WithCapacity(2))
	require.NoError(t, c.Update(sight(0x1, -1), at(0)))
	require.NoError(t, c.Update(sight(0x2, -1), at(0)))

	err := c.Update(sight(0x3, -1), at(0))
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, 2, c.Len())

	// known stations still update at capacity
	assert.NoError(t, c.Update(sight(0x2, -9), at(1)))
	e, _ := c.Get(0x2)
	assert.Equal(t, int32(-9), e.Latest.RSSI)
}

func TestSweep_EndToEnd(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	require.NoError(t, c.Update(sight(0x1, -40, 0xAA), at(0)))

	st, err := c.Sweep(context.Background(), at(5), 12*time.Second, rec)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Total: 1, Survivors: 1, AfterCleanup: 1, Added: 1}, st)

	batch := rec.Last()
	want := map[string]telemetry.Value{
		"BTScan.000000000001.lastseen":       telemetry.Int(at(0).Unix()),
		"BTScan.000000000001.rssi":           telemetry.Int(-40),
		"BTScan.000000000001.addrType":       telemetry.Int(0),
		"BTScan.000000000001.dataLen":        telemetry.Int(1),
		"BTScan.000000000001.data":           telemetry.String("qg=="),
		"BTScan.stats.stations.count":        telemetry.Int(1),
		"BTScan.stats.stations.afterCleanup": telemetry.Int(1),
		"BTScan.stats.stations.removed":      telemetry.Int(0),
		"BTScan.stats.stations.added":        telemetry.Int(1),
	}
	assert.Len(t, batch, len(want))
	for path, v := range want {
		got, ok := sink.Lookup(batch, path)
		if assert.True(t, ok, "missing %s", path) {
			assert.Equal(t, v, got, path)
		}
	}

	e, _ := c.Get(0x1)
	assert.False(t, e.Dirty)

	st, err = c.Sweep(context.Background(), at(20), 12*time.Second, rec)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Survivors)
	assert.Equal(t, 1, st.Removed)
	assert.Equal(t, 0, st.Added)
	assert.Equal(t, 0, c.Len())
}

func TestSweep_AgingRemovesEachStaleEntry(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	require.NoError(t, c.Update(sight(0x1, -1, 0x01), at(0)))
	require.NoError(t, c.Update(sight(0x2, -1, 0x01), at(0)))
	require.NoError(t, c.Update(sight(0x3, -1, 0x01), at(50)))

	st, err := c.Sweep(context.Background(), at(61), time.Minute, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Removed)
	assert.Equal(t, 1, st.Survivors)

	_, ok := c.Get(0x3)
	assert.True(t, ok)
	_, ok = sink.Lookup(rec.Last(), "BTScan.000000000001.rssi")
	assert.False(t, ok, "removed stations are not reported")
}

func TestSweep_AgeEqualToMaxAgeSurvives(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(sight(0x1, -1), at(0)))
	st, err := c.Sweep(context.Background(), at(12), 12*time.Second, sink.NewRecorder())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Survivors)
}

func TestSweep_Idempotent(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	require.NoError(t, c.Update(sight(0x1, -40, 0xAA), at(0)))

	_, err := c.Sweep(context.Background(), at(1), time.Minute, rec)
	require.NoError(t, err)
	_, err = c.Sweep(context.Background(), at(2), time.Minute, rec)
	require.NoError(t, err)

	second := rec.Last()
	_, ok := sink.Lookup(second, "BTScan.000000000001.lastseen")
	assert.True(t, ok)
	_, ok = sink.Lookup(second, "BTScan.000000000001.rssi")
	assert.True(t, ok)
	for _, f := range []string{"addrType", "dataLen", "data"} {
		_, ok := sink.Lookup(second, "BTScan.000000000001."+f)
		assert.False(t, ok, "%s re-reported", f)
	}
}

func TestSweep_FlushFailureKeepsDirty(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	boom := errors.New("link down")
	require.NoError(t, c.Update(sight(0x1, -40, 0xAA), at(0)))

	rec.FailWith(boom)
	st, err := c.Sweep(context.Background(), at(1), time.Minute, rec)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, st.Survivors)
	e, _ := c.Get(0x1)
	assert.True(t, e.Dirty)

	rec.FailWith(nil)
	st, err = c.Sweep(context.Background(), at(2), time.Minute, rec)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Added, "survivor count advances even when the flush failed")
	_, ok := sink.Lookup(rec.Last(), "BTScan.000000000001.data")
	assert.True(t, ok)
	e, _ = c.Get(0x1)
	assert.False(t, e.Dirty)
}

func TestSweep_AddedIsNonNegativeDelta(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	ctx := context.Background()

	require.NoError(t, c.Update(sight(0x1, -1), at(0)))
	require.NoError(t, c.Update(sight(0x2, -1), at(0)))
	st, _ := c.Sweep(ctx, at(1), 10*time.Second, rec)
	assert.Equal(t, 2, st.Added)

	// one leaves, one arrives: the delta hides both
	require.NoError(t, c.Update(sight(0x3, -1), at(15)))
	require.NoError(t, c.Update(sight(0x2, -1), at(15)))
	st, _ = c.Sweep(ctx, at(16), 10*time.Second, rec)
	assert.Equal(t, 1, st.Removed)
	assert.Equal(t, 0, st.Added)

	st, _ = c.Sweep(ctx, at(40), 10*time.Second, rec)
	assert.Equal(t, 2, st.Removed)
	assert.Equal(t, 0, st.Added)
}

func TestSweep_Prefix(t *testing.T) {
	c := New(WithPrefix("Lab"))
	rec := sink.NewRecorder()
	require.NoError(t, c.Update(sight(0x29db3ccd015a, -1), at(0)))
	_, err := c.Sweep(context.Background(), at(0), time.Minute, rec)
	require.NoError(t, err)

	_, ok := sink.Lookup(rec.Last(), "Lab.29db3ccd015a.rssi")
	assert.True(t, ok)
	_, ok = sink.Lookup(rec.Last(), "Lab.stats.stations.count")
	assert.True(t, ok)
}

func TestShutdown(t *testing.T) {
	c := New()
	require.NoError(t, c.Update(sight(0x1, -1), at(0)))
	c.Shutdown()

	assert.Equal(t, 0, c.Len())
	assert.ErrorIs(t, c.Update(sight(0x1, -1), at(1)), ErrClosed)
	rec := sink.NewRecorder()
	_, err := c.Sweep(context.Background(), at(1), time.Minute, rec)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, rec.Batches())
}

func TestSweep_ReportsNewStationSeenAgainBeforeSweep(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Update(sight(0x1, -40, 0xAA), at(i*10)))
	}
	e, _ := c.Get(0x1)
	assert.False(t, e.Dirty)
	assert.True(t, e.Pending())

	_, err := c.Sweep(context.Background(), at(30), time.Minute, rec)
	require.NoError(t, err)
	got, ok := sink.Lookup(rec.Last(), "BTScan.000000000001.data")
	require.True(t, ok, "advertisement never reported")
	assert.Equal(t, telemetry.String("qg=="), got)

	e, _ = c.Get(0x1)
	assert.False(t, e.Pending())
}

func TestSweep_FlushFailureThenUnchangedSightingReReports(t *testing.T) {
	c := New()
	rec := sink.NewRecorder()
	ctx := context.Background()
	require.NoError(t, c.Update(sight(0x1, -40, 0xAA), at(0)))
	_, err := c.Sweep(ctx, at(1), time.Minute, rec)
	require.NoError(t, err)

	require.NoError(t, c.Update(sight(0x1, -40, 0xBB), at(2)))
	rec.FailWith(errors.New("link down"))
	_, err = c.Sweep(ctx, at(3), time.Minute, rec)
	require.Error(t, err)

	// the same new payload again clears Dirty but is still undelivered
	require.NoError(t, c.Update(sight(0x1, -41, 0xBB), at(4)))
	e, _ := c.Get(0x1)
	assert.False(t, e.Dirty)
	assert.True(t, e.Pending())

	rec.FailWith(nil)
	_, err = c.Sweep(ctx, at(5), time.Minute, rec)
	require.NoError(t, err)
	got, ok := sink.Lookup(rec.Last(), "BTScan.000000000001.data")
	require.True(t, ok)
	assert.Equal(t, telemetry.String("uw=="), got)
}

func TestCache_ConcurrentUpdateSweepGet(t *testing.T) {
	c := New(WithCapacity(0))
	ctx := context.Background()
	const (
		writers  = 8
		perWrite = 200
		sweeps   = 50
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWrite; i++ {
				addr := uint64(w*perWrite+i)%300 + 1
				assert.NoError(t, c.Update(sight(addr, int32(-i%90), byte(i)), at(i%40)))
				c.Get(addr)
			}
		}(w)
	}

	results := make(chan SweepStats, sweeps)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < sweeps; i++ {
			st, err := c.Sweep(ctx, at(i), 20*time.Second, sink.NewRecorder())
			assert.NoError(t, err)
			results <- st
			c.Len()
		}
	}()
	wg.Wait()
	close(results)

	for st := range results {
		assert.Equal(t, st.Total, st.Survivors+st.Removed)
		assert.Equal(t, st.Survivors, st.AfterCleanup)
		assert.GreaterOrEqual(t, st.Added, 0)
	}

	// quiescent: a final sweep leaves exactly the survivors in the cache
	st, err := c.Sweep(ctx, at(45), 20*time.Second, sink.NewRecorder())
	require.NoError(t, err)
	assert.Equal(t, st.Total, st.Survivors+st.Removed)
	assert.Equal(t, c.Len(), st.AfterCleanup)
}

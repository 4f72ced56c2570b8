package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sample"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/benchtop-labs/lockin/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "/dev1234/demods/0/sample"

func startSim(t *testing.T) *daqserver.Session {
	t.Helper()
	srv := sim.New()
	srv.SweepPerLoop = 30 * time.Millisecond
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	return sess
}

func TestFrequencySweep(t *testing.T) {
	sess := startSim(t)
	sw, err := sweeper.New(sess)
	require.NoError(t, err)

	require.NoError(t, sw.SetDevice("dev1234"))
	require.NoError(t, sw.SetGridNode("oscs/0/freq"))
	require.NoError(t, sw.SetStart(1e3))
	require.NoError(t, sw.SetStop(1e6))
	require.NoError(t, sw.SetSampleCount(50))
	require.NoError(t, sw.SetXMapping(sweeper.XMappingLog))
	require.NoError(t, sw.SetBandwidthControl(sweeper.BandwidthAuto))
	require.NoError(t, sw.SetLoopCount(2))
	require.NoError(t, sw.SetAveragingSampleCount(10))
	require.NoError(t, sw.Subscribe(samplePath))

	sweeps, err := sw.Run(context.Background(), module.CollectConfig{
		Interval: 15 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, sweeper.ValidateCount(sweeps, 2))

	recs := sweeps[samplePath]
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, 50, rec.SampleCount)
		require.Len(t, rec.Grid, 50)
		require.Len(t, rec.X, 50)
		require.Len(t, rec.Y, 50)
		assert.InDelta(t, 1e3, rec.Grid[0], 1)
		assert.InDelta(t, 1e6, rec.Grid[len(rec.Grid)-1], 1e3)
		// log spacing: constant ratio between neighbors
		r0 := rec.Grid[1] / rec.Grid[0]
		r1 := rec.Grid[2] / rec.Grid[1]
		assert.InDelta(t, r0, r1, r0*1e-6)
	}
}

func TestValidateCountMismatch(t *testing.T) {
	sweeps := map[string][]sample.Sweep{samplePath: make([]sample.Sweep, 1)}
	assert.NoError(t, sweeper.ValidateCount(sweeps, 1))
	assert.Error(t, sweeper.ValidateCount(sweeps, 2))
}

func TestParamReadback(t *testing.T) {
	sess := startSim(t)
	sw, err := sweeper.New(sess)
	require.NoError(t, err)

	require.NoError(t, sw.SetStart(5e3))
	v, err := sw.GetStart()
	require.NoError(t, err)
	assert.Equal(t, 5e3, v)

	require.NoError(t, sw.SetLoopCount(7))
	n, err := sw.GetLoopCount()
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}

package daqmod_test

import (
	"context"
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqmod"
	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "/dev1234/demods/0/sample"

func startSim(t *testing.T) *daqserver.Session {
	t.Helper()
	srv := sim.New()
	srv.GridPeriod = 25 * time.Millisecond
	srv.FindLevelTime = 20 * time.Millisecond
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	return sess
}

func TestTriggerPath(t *testing.T) {
	got := daqmod.TriggerPath(samplePath, "r")
	assert.Equal(t, samplePath+".r", got)
}

func TestTriggeredGridAcquisition(t *testing.T) {
	sess := startSim(t)
	d, err := daqmod.New(sess)
	require.NoError(t, err)

	require.NoError(t, d.SetDevice("dev1234"))
	require.NoError(t, d.SetType(daqmod.TriggerEdge))
	require.NoError(t, d.SetTriggerNode(daqmod.TriggerPath(samplePath, "r")))
	require.NoError(t, d.SetEdge(daqmod.EdgeRising))
	require.NoError(t, d.SetLevel(0.1))
	require.NoError(t, d.SetHysteresis(0.01))
	require.NoError(t, d.SetDuration(0.01))
	require.NoError(t, d.SetGridMode(daqmod.GridLinear))
	require.NoError(t, d.SetGridCols(64))
	require.NoError(t, d.SetGridRows(4))
	require.NoError(t, d.SetCount(3))
	require.NoError(t, d.Subscribe(samplePath))

	bursts, err := d.Run(context.Background(), module.CollectConfig{
		Interval: 15 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	recs := bursts[samplePath]
	require.Len(t, recs, 3, "one burst per configured grid")
	for i, b := range recs {
		assert.True(t, b.Complete(), "burst %d should be complete", i)
		assert.Equal(t, 4, b.Header.GridRows)
		assert.Equal(t, 64, b.Header.GridCols)
		require.Len(t, b.Value, 4)
		require.Len(t, b.Value[0], 64)
	}
	assert.Empty(t, daqmod.CompleteOnly(nil))
	assert.Len(t, daqmod.CompleteOnly(recs), 3)
}

func TestFindLevel(t *testing.T) {
	sess := startSim(t)
	d, err := daqmod.New(sess)
	require.NoError(t, err)
	require.NoError(t, d.SetDevice("dev1234"))
	require.NoError(t, d.SetTriggerNode(daqmod.TriggerPath(samplePath, "r")))

	level, hysteresis, err := d.FindLevel(10*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	assert.Greater(t, level, 0.0)
	assert.Greater(t, hysteresis, 0.0)
	assert.Less(t, hysteresis, level)
}

func TestGridColsCoercion(t *testing.T) {
	sess := startSim(t)
	d, err := daqmod.New(sess)
	require.NoError(t, err)

	require.NoError(t, d.SetGridCols(1))
	cols, err := d.GetGridCols()
	require.NoError(t, err)
	assert.EqualValues(t, 2, cols, "the module coerces the column count to fit its constraints")
}

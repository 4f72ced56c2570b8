package mdsync_test

import (
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/mdsync"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSim(t *testing.T, syncTime time.Duration) *daqserver.Session {
	t.Helper()
	srv := sim.New()
	srv.MDSyncTime = syncTime
	srv.AddDevice(sim.Device{ID: "dev5678", DeviceType: "MFLI", Options: []string{"MD"}, Interface: "1GbE"})
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	return sess
}

func TestRunSynchronizesDevices(t *testing.T) {
	sess := startSim(t, 40*time.Millisecond)
	md, err := mdsync.New(sess)
	require.NoError(t, err)

	require.NoError(t, md.SetDevices([]string{"dev1234", "dev5678"}))
	require.NoError(t, md.SetGroup(0))

	status, err := md.Status()
	require.NoError(t, err)
	assert.Equal(t, mdsync.StatusIdle, status)

	require.NoError(t, md.Run(10*time.Millisecond, 2*time.Second))

	status, err = md.Status()
	require.NoError(t, err)
	assert.Equal(t, mdsync.StatusSynced, status)

	msg, err := md.Message()
	require.NoError(t, err)
	assert.Contains(t, msg, "complete")
}

func TestRunTimesOut(t *testing.T) {
	sess := startSim(t, 10*time.Second)
	md, err := mdsync.New(sess)
	require.NoError(t, err)
	require.NoError(t, md.SetDevices([]string{"dev1234", "dev5678"}))

	err = md.Run(10*time.Millisecond, 80*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrTimeout)

	assert.NoError(t, md.Stop())
}

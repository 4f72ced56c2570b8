package module_test

import (
	"context"
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "/dev1234/demods/0/sample"

func startSim(t *testing.T, tune func(*sim.Server)) *daqserver.Session {
	t.Helper()
	srv := sim.New()
	if tune != nil {
		tune(srv)
	}
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	return sess
}

func newSweep(t *testing.T, sess *daqserver.Session, loops int) *module.Module {
	t.Helper()
	m, err := module.New(sess, module.Sweeper)
	require.NoError(t, err)
	require.NoError(t, m.Set("device", "dev1234"))
	require.NoError(t, m.Set("samplecount", 20))
	require.NoError(t, m.Set("loopcount", loops))
	require.NoError(t, m.Subscribe(samplePath))
	return m
}

func TestCollectCompletesBeforeTimeout(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 40 * time.Millisecond })
	m := newSweep(t, sess, 2)

	var sawProgress bool
	data, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  5 * time.Second,
		OnProgress: func(p float64, records int) {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sawProgress = true
		},
	})
	require.NoError(t, err)
	assert.True(t, sawProgress)
	assert.Equal(t, 2, data.Count(samplePath), "one record per completed sweep")
}

func TestCollectTimeoutWithZeroRecordsIsFatal(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 10 * time.Second })
	m := newSweep(t, sess, 1)

	_, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  150 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrNoData)
	assert.ErrorIs(t, err, module.ErrTimeout)
}

func TestCollectTimeoutWithPartialRecordsProceeds(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 60 * time.Millisecond })
	m := newSweep(t, sess, 50)

	data, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err, "partial data within the budget is not an error")
	got := data.Count(samplePath)
	assert.Greater(t, got, 0)
	assert.Less(t, got, 50)
}

func TestSubscribeAfterExecuteYieldsNoData(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 30 * time.Millisecond })
	m, err := module.New(sess, module.Sweeper)
	require.NoError(t, err)
	require.NoError(t, m.Set("device", "dev1234"))
	require.NoError(t, m.Set("loopcount", 1))

	require.NoError(t, m.Execute())
	// too late: data only accumulates for paths subscribed before Execute
	require.NoError(t, m.Subscribe(samplePath))

	time.Sleep(60 * time.Millisecond)
	data, err := m.Read()
	require.NoError(t, err)
	_, found := data[samplePath]
	assert.False(t, found, "late subscription must be absent, not an error")
	require.NoError(t, m.Finish())
}

func TestIntermediateReadsDrainRecords(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 30 * time.Millisecond })
	m := newSweep(t, sess, 2)
	require.NoError(t, m.Execute())

	time.Sleep(40 * time.Millisecond)
	first, err := m.Read()
	require.NoError(t, err)
	require.Equal(t, 1, first.Count(samplePath))

	// records are removed on read; an immediate second read is empty
	again, err := m.Read()
	require.NoError(t, err)
	assert.Zero(t, again.Count(samplePath))

	time.Sleep(40 * time.Millisecond)
	second, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count(samplePath))
	require.NoError(t, m.Finish())
}

func TestFinishIsIdempotentAndReArms(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 20 * time.Millisecond })
	m := newSweep(t, sess, 1)

	_, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, m.Finish())
	require.NoError(t, m.Finish(), "Finish on a finished module is not an error")

	data, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err, "the module re-arms after Finish")
	assert.Equal(t, 1, data.Count(samplePath))
}

func TestParamRoundTrip(t *testing.T) {
	sess := startSim(t, nil)
	m, err := module.New(sess, module.Sweeper)
	require.NoError(t, err)

	require.NoError(t, m.Set("start", 1e4))
	v, err := m.GetDouble("start")
	require.NoError(t, err)
	assert.Equal(t, 1e4, v)

	require.NoError(t, m.Set("samplecount", 250))
	n, err := m.GetInt("samplecount")
	require.NoError(t, err)
	assert.EqualValues(t, 250, n)

	require.NoError(t, m.Set("device", "dev1234"))
	s, err := m.GetString("device")
	require.NoError(t, err)
	assert.Equal(t, "dev1234", s)
}

func TestWaitSaveFlagReturnsToZero(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SaveTime = 40 * time.Millisecond })
	m := newSweep(t, sess, 1)

	err := module.WaitSave(m, 10*time.Millisecond, time.Second)
	require.NoError(t, err)

	// once observed zero, it stays zero
	v, err := m.GetInt("save/save")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestWaitParamZeroTimesOut(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SaveTime = 10 * time.Second })
	m := newSweep(t, sess, 1)

	require.NoError(t, m.Set("save/save", 1))
	err := m.WaitParamZero("save/save", 10*time.Millisecond, 80*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrTimeout)
}

func TestCollectContextCancellation(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 10 * time.Second })
	m := newSweep(t, sess, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := module.Collect(ctx, m, module.CollectConfig{
		Interval: 20 * time.Millisecond,
		Timeout:  time.Minute,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribeBeforeExecute(t *testing.T) {
	sess := startSim(t, func(s *sim.Server) { s.SweepPerLoop = 20 * time.Millisecond })
	m := newSweep(t, sess, 1)
	require.NoError(t, m.Unsubscribe(nodetree.Normalize(samplePath)))

	data, err := module.Collect(context.Background(), m, module.CollectConfig{
		Interval: 10 * time.Millisecond,
		Timeout:  200 * time.Millisecond,
	})
	// finishing with nothing subscribed is a successful, empty run; zero
	// records is fatal only when the budget elapses
	require.NoError(t, err)
	assert.Zero(t, data.Total())
}

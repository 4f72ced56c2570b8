package daqserver_test

import (
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/nodetree"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSim(t *testing.T) (*sim.Server, *daqserver.Session) {
	t.Helper()
	srv := sim.New()
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return srv, sess
}

func TestConnectNegotiatesAPILevel(t *testing.T) {
	srv := sim.New()
	addr, err := srv.Start()
	require.NoError(t, err)
	defer srv.Close()

	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, sess.APILevel())

	_, err = daqserver.Connect(addr, 99)
	assert.Error(t, err, "out-of-range API level must be refused")
}

func TestVersionCheck(t *testing.T) {
	srv, sess := startSim(t)

	version, err := sess.Version()
	require.NoError(t, err)
	assert.Contains(t, version, daqserver.SupportedRelease)
	assert.NoError(t, sess.VersionCheck())

	srv.Version = "23.06.12345"
	assert.Error(t, sess.VersionCheck(), "mismatched release must fail the check")
}

func TestGetSetRoundTrip(t *testing.T) {
	_, sess := startSim(t)

	freq := nodetree.Path("dev1234", "oscs", 0, "freq")
	require.NoError(t, sess.SetDouble(freq, 123456.78))
	got, err := sess.GetDouble(freq)
	require.NoError(t, err)
	assert.Equal(t, 123456.78, got)

	enable := nodetree.Path("dev1234", "demods", 0, "enable")
	require.NoError(t, sess.SetInt(enable, 1))
	n, err := sess.GetInt(enable)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSetUnknownNodeFails(t *testing.T) {
	_, sess := startSim(t)

	err := sess.SetDouble("/dev1234/oscs/9/freq", 1.0)
	require.Error(t, err)
	var se *daqserver.ServerError
	assert.ErrorAs(t, err, &se)
}

func TestSettingsBatch(t *testing.T) {
	_, sess := startSim(t)

	batch := nodetree.Settings{
		nodetree.S(nodetree.Path("dev1234", "sigouts", 0, "on"), 1),
		nodetree.S(nodetree.Path("dev1234", "sigouts", 0, "enables", 1), 1),
		nodetree.S(nodetree.Path("dev1234", "sigouts", 0, "amplitudes", 1), 0.5),
	}
	require.NoError(t, sess.Set(batch))
	require.NoError(t, sess.Sync())

	amp, err := sess.GetDouble(nodetree.Path("dev1234", "sigouts", 0, "amplitudes", 1))
	require.NoError(t, err)
	assert.Equal(t, 0.5, amp)
}

func TestDiscovery(t *testing.T) {
	srv, sess := startSim(t)
	srv.AddDevice(sim.Device{ID: "DEV5678", DeviceType: "UHFLI", Options: []string{"AWG"}, Interface: "USB"})

	ids, err := sess.Devices()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev1234", "dev5678"}, ids)

	props, err := sess.DeviceProperties("DEV1234")
	require.NoError(t, err)
	assert.Equal(t, "MFLI", props.DeviceType)
	assert.True(t, props.HasOption("pid"))

	_, err = sess.DeviceProperties("dev9999")
	assert.Error(t, err, "undiscoverable devices report an empty device type")

	require.NoError(t, sess.ConnectDevice("dev5678", "USB"))
	props, err = sess.DeviceProperties("dev5678")
	require.NoError(t, err)
	assert.True(t, props.Connected)
}

func TestRequireDevice(t *testing.T) {
	_, sess := startSim(t)

	props, err := sess.RequireDevice("dev1234", ".*LI|.*IA", "PID")
	require.NoError(t, err)
	assert.Equal(t, 1, daqserver.DefaultOutputMixerChannel(props))

	_, err = sess.RequireDevice("dev1234", "UHF.*")
	assert.Error(t, err, "type mismatch must fail")

	_, err = sess.RequireDevice("dev1234", ".*LI", "AWG")
	assert.Error(t, err, "missing option must fail")
}

func TestSubscribePollSample(t *testing.T) {
	_, sess := startSim(t)

	path := nodetree.Path("dev1234", "demods", 0, "sample")
	require.NoError(t, sess.SetInt(nodetree.Path("dev1234", "demods", 0, "enable"), 1))
	require.NoError(t, sess.SetDouble(nodetree.Path("dev1234", "demods", 0, "rate"), 2000))
	require.NoError(t, sess.Subscribe(path))
	require.NoError(t, sess.Sync())

	data, err := sess.Poll(100 * time.Millisecond)
	require.NoError(t, err)
	block, found := data[path]
	require.True(t, found, "subscribed path must appear in poll data")
	require.Greater(t, block.Len(), 0)

	// roughly rate * poll duration samples; generous bounds, the sim is
	// wall-clock paced
	assert.Greater(t, block.Len(), 100)
	assert.Less(t, block.Len(), 2000)
}

func TestSubscribeNonStreamingNodeFails(t *testing.T) {
	_, sess := startSim(t)

	err := sess.Subscribe(nodetree.Path("dev1234", "oscs", 0, "freq"))
	assert.Error(t, err, "only streaming nodes are subscribable")
}

func TestUnsubscribeWildcard(t *testing.T) {
	_, sess := startSim(t)

	require.NoError(t, sess.SetInt(nodetree.Path("dev1234", "demods", 0, "enable"), 1))
	require.NoError(t, sess.Subscribe(nodetree.Path("dev1234", "demods", 0, "sample")))
	require.NoError(t, sess.Unsubscribe("*"))

	data, err := sess.Poll(30 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSetVector(t *testing.T) {
	_, sess := startSim(t)

	payload := []byte{0x00, 0x7f, 0xff, 0x80, 0x01}
	err := sess.SetVector(nodetree.Path("dev1234", "awgs", 0, "waveform", "waves", 0), payload)
	assert.NoError(t, err)
}

func TestListNodesAndDisableEverything(t *testing.T) {
	_, sess := startSim(t)

	nodes, err := sess.ListNodes("/dev1234/demods", nodetree.ListRecursive|nodetree.ListAbsolute)
	require.NoError(t, err)
	assert.NotEmpty(t, nodes)
	for _, n := range nodes {
		assert.Contains(t, n, "/dev1234/demods/")
	}

	require.NoError(t, sess.SetInt(nodetree.Path("dev1234", "sigouts", 0, "on"), 1))
	require.NoError(t, sess.SetInt(nodetree.Path("dev1234", "demods", 2, "enable"), 1))
	require.NoError(t, sess.DisableEverything("dev1234"))

	on, err := sess.GetInt(nodetree.Path("dev1234", "sigouts", 0, "on"))
	require.NoError(t, err)
	assert.Zero(t, on)
	en, err := sess.GetInt(nodetree.Path("dev1234", "demods", 2, "enable"))
	require.NoError(t, err)
	assert.Zero(t, en)
}

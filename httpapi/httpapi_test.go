package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/httpapi"
	"github.com/benchtop-labs/lockin/sample"
	"github.com/benchtop-labs/lockin/server"
	"github.com/benchtop-labs/lockin/server/middleware/locker"
	"github.com/benchtop-labs/lockin/sim"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFacade(t *testing.T) *httptest.Server {
	t.Helper()
	srv := sim.New()
	srv.SweepPerLoop = 30 * time.Millisecond
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)

	nt := httpapi.NewNodeTree(sess)
	r := chi.NewRouter()
	nt.RT().Bind(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	enc, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(enc))
	require.NoError(t, err)
	return resp
}

func TestVersionAndDevices(t *testing.T) {
	ts := startFacade(t)

	resp, err := http.Get(ts.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v server.StrT
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Contains(t, v.Str, daqserver.SupportedRelease)

	resp, err = http.Get(ts.URL + "/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ids []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ids))
	assert.Contains(t, ids, "dev1234")

	resp, err = http.Get(ts.URL + "/device-properties?device=dev1234")
	require.NoError(t, err)
	defer resp.Body.Close()
	var props daqserver.DeviceProperties
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&props))
	assert.Equal(t, "MFLI", props.DeviceType)
}

func TestNodeGetSet(t *testing.T) {
	ts := startFacade(t)

	resp := postJSON(t, ts.URL+"/node/dev1234/oscs/0/freq", server.FloatT{F64: 250e3})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/node/dev1234/oscs/0/freq")
	require.NoError(t, err)
	defer resp.Body.Close()
	var v server.FloatT
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, 250e3, v.F64)

	resp = postJSON(t, ts.URL+"/node/dev1234/oscs/9/freq", server.FloatT{F64: 1})
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "unknown nodes error")
}

func TestPollOverHTTP(t *testing.T) {
	ts := startFacade(t)

	resp := postJSON(t, ts.URL+"/node/dev1234/demods/0/enable", server.IntT{Int: 1})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/subscribe", server.StrT{Str: "/dev1234/demods/0/sample"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/sync", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/poll", server.IntT{Int: 80})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data map[string]*sample.Demod
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	block, found := data["/dev1234/demods/0/sample"]
	require.True(t, found)
	assert.Greater(t, block.Len(), 0)
}

func TestSweepOverHTTP(t *testing.T) {
	ts := startFacade(t)

	resp := postJSON(t, ts.URL+"/sweep", httpapi.SweepRequest{
		Device:      "dev1234",
		GridNode:    "oscs/0/freq",
		Start:       1e3,
		Stop:        1e5,
		SampleCount: 25,
		LoopCount:   1,
		LogSpacing:  true,
		Path:        "/dev1234/demods/0/sample",
		TimeoutSec:  5,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sweeps map[string][]sample.Sweep
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sweeps))
	recs := sweeps["/dev1234/demods/0/sample"]
	require.Len(t, recs, 1)
	assert.Equal(t, 25, recs[0].SampleCount)
}

func TestLockerBlocksMutation(t *testing.T) {
	srv := sim.New()
	addr, err := srv.Start()
	require.NoError(t, err)
	defer srv.Close()
	sess, err := daqserver.Connect(addr, 6)
	require.NoError(t, err)

	nt := httpapi.NewNodeTree(sess)
	lock := locker.New()
	locker.Inject(nt, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	nt.RT().Bind(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/lock", server.BoolT{Bool: true})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/node/dev1234/oscs/0/freq", server.FloatT{F64: 1e3})
	resp.Body.Close()
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/lock", server.BoolT{Bool: false})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/node/dev1234/oscs/0/freq", server.FloatT{F64: 1e3})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

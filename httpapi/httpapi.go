// Package httpapi exposes a data-server session over HTTP, so experiment
// scripts in any language can read and write the node tree, poll streamed
// data and run processing modules without a native client.
package httpapi

import (
	"context"
	"encoding/json"
	"go/types"
	"net/http"
	"time"

	"github.com/benchtop-labs/lockin/daqserver"
	"github.com/benchtop-labs/lockin/module"
	"github.com/benchtop-labs/lockin/server"
	"github.com/benchtop-labs/lockin/sweeper"
	"github.com/go-chi/chi"
	"goji.io/pat"
)

// GetFloat wraps a float-getting function as {"f64": value}.
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// GetString wraps a string-getting function as {"str": value}.
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// NodeTree is an HTTP adapter for a data-server session.
type NodeTree struct {
	// Sess is the underlying session.
	Sess *daqserver.Session

	rt server.RouteTable
}

// NewNodeTree builds the adapter and populates its route table.
func NewNodeTree(sess *daqserver.Session) *NodeTree {
	nt := &NodeTree{Sess: sess}
	nt.rt = server.RouteTable{
		pat.Get("/version"):            GetString(sess.Version),
		pat.Get("/devices"):            nt.Devices,
		pat.Get("/device-properties"):  nt.DeviceProperties,
		pat.Get("/node/*"):             nt.GetNode,
		pat.Post("/node/*"):            nt.SetNode,
		pat.Post("/subscribe"):         nt.Subscribe,
		pat.Post("/unsubscribe"):       nt.Unsubscribe,
		pat.Post("/poll"):              nt.Poll,
		pat.Post("/sync"):              nt.Sync,
		pat.Post("/sweep"):             nt.RunSweep,
	}
	return nt
}

// RT satisfies server.HTTPer.
func (nt *NodeTree) RT() server.RouteTable {
	return nt.rt
}

func respondJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(obj)
}

// Devices lists the device ids known to the data server.
func (nt *NodeTree) Devices(w http.ResponseWriter, r *http.Request) {
	ids, err := nt.Sess.Devices()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, ids)
}

// DeviceProperties returns discovery metadata for the device named by the
// ?device= query parameter.
func (nt *NodeTree) DeviceProperties(w http.ResponseWriter, r *http.Request) {
	props, err := nt.Sess.DeviceProperties(r.URL.Query().Get("device"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, props)
}

// nodePath extracts the node path from the wildcard tail of /node/*.  The
// table is bound onto a chi router, which is where the wildcard lives.
func nodePath(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// GetNode reads a node value; ?type=int or ?type=str select the accessor,
// the default is a float read.
func (nt *NodeTree) GetNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	switch r.URL.Query().Get("type") {
	case "int":
		v, err := nt.Sess.GetInt(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: int(v)}
		hp.EncodeAndRespond(w, r)
	case "str":
		v, err := nt.Sess.GetString(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.String, String: v}
		hp.EncodeAndRespond(w, r)
	default:
		v, err := nt.Sess.GetDouble(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: v}
		hp.EncodeAndRespond(w, r)
	}
}

// SetNode writes a node value from a {"f64"|"int"|"str": value} body.
func (nt *NodeTree) SetNode(w http.ResponseWriter, r *http.Request) {
	path := nodePath(r)
	var body map[string]interface{}
	err := json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var value interface{}
	for _, key := range []string{"f64", "int", "str"} {
		if v, found := body[key]; found {
			value = v
			break
		}
	}
	if value == nil {
		http.Error(w, "body must carry one of f64, int, str", http.StatusBadRequest)
		return
	}
	err = nt.Sess.SetValue(path, value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Subscribe registers a streaming path from a {"str": path} body.
func (nt *NodeTree) Subscribe(w http.ResponseWriter, r *http.Request) {
	nt.pathAction(w, r, nt.Sess.Subscribe)
}

// Unsubscribe removes subscriptions from a {"str": pattern} body.
func (nt *NodeTree) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	nt.pathAction(w, r, nt.Sess.Unsubscribe)
}

func (nt *NodeTree) pathAction(w http.ResponseWriter, r *http.Request, fcn func(string) error) {
	s := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = fcn(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Poll blocks for {"int": milliseconds} and returns the accumulated demod
// data per subscribed path.
func (nt *NodeTree) Poll(w http.ResponseWriter, r *http.Request) {
	i := server.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := nt.Sess.Poll(time.Duration(i.Int) * time.Millisecond)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, data)
}

// Sync issues the settings barrier.
func (nt *NodeTree) Sync(w http.ResponseWriter, r *http.Request) {
	err := nt.Sess.Sync()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SweepRequest configures a sweep run over HTTP.
type SweepRequest struct {
	Device      string  `json:"device"`
	GridNode    string  `json:"gridnode"`
	Start       float64 `json:"start"`
	Stop        float64 `json:"stop"`
	SampleCount int     `json:"samplecount"`
	LoopCount   int     `json:"loopcount"`
	LogSpacing  bool    `json:"logspacing"`
	Path        string  `json:"path"`
	TimeoutSec  float64 `json:"timeout_sec"`
}

// RunSweep configures, executes and reads back a sweep in one request.
func (nt *NodeTree) RunSweep(w http.ResponseWriter, r *http.Request) {
	req := SweepRequest{LoopCount: 1, TimeoutSec: 30}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sw, err := sweeper.New(nt.Sess)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	xmapping := sweeper.XMappingLinear
	if req.LogSpacing {
		xmapping = sweeper.XMappingLog
	}
	steps := []error{
		sw.SetDevice(req.Device),
		sw.SetGridNode(req.GridNode),
		sw.SetStart(req.Start),
		sw.SetStop(req.Stop),
		sw.SetSampleCount(req.SampleCount),
		sw.SetLoopCount(req.LoopCount),
		sw.SetXMapping(xmapping),
		sw.Subscribe(req.Path),
		nt.Sess.Sync(),
	}
	for _, err := range steps {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	sweeps, err := sw.Run(r.Context(), module.CollectConfig{
		Timeout: time.Duration(req.TimeoutSec * float64(time.Second)),
	})
	if err != nil {
		if r.Context().Err() == context.Canceled {
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, sweeps)
}

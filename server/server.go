// Package server contains shared plumbing for the HTTP facade: typed JSON
// payloads and a route table keyed by goji patterns that binds onto a chi
// router.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"goji.io/pat"
)

// FloatT is a JSON payload carrying one float.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a JSON payload carrying one integer.
type IntT struct {
	Int int `json:"int"`
}

// StrT is a JSON payload carrying one string.
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a JSON payload carrying one boolean.
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a typed scalar destined for a JSON response.  T selects
// which field is live.
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Float  float64
	String string
}

// EncodeAndRespond writes the payload to w as JSON with the key matching its
// type, e.g. {"f64": 1.5}.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var obj interface{}
	switch hp.T {
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	case types.String:
		obj = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("unencodable payload type %v", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		log.Printf("error encoding response payload: %v", err)
	}
}

// RouteTable maps goji patterns to handlers.
type RouteTable map[*pat.Pattern]http.HandlerFunc

// Endpoints lists the patterns in the table.
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for p := range rt {
		out = append(out, p.String())
	}
	return out
}

// Bind attaches every route in the table to r, honoring the pattern's HTTP
// methods, and adds an endpoints route listing the table.
func (rt RouteTable) Bind(r chi.Router) {
	for p, handler := range rt {
		methods := p.HTTPMethods()
		if methods == nil {
			r.Handle(p.String(), handler)
			continue
		}
		for method := range methods {
			r.Method(method, p.String(), handler)
		}
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(rt.Endpoints())
		if err != nil {
			log.Printf("error encoding endpoint list: %v", err)
		}
	})
}

// HTTPer is an object which exposes its functionality as a route table.
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize shapes an endpoint for mounting: "omc/lockin" becomes
// "/omc/lockin".
func SubMuxSanitize(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

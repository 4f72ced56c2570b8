// Package locker provides an HTTP middleware that marks a facade busy,
// returning 423 (Locked) to mutating requests.  A data-server session runs
// one module at a time; the lock keeps a second client from reconfiguring
// the instrument mid-acquisition.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/benchtop-labs/lockin/server"
	"goji.io/pat"
)

// Inject adds GET and POST /lock routes to an HTTPer for manipulating its
// lock.
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[pat.Get("/lock")] = l.HTTPGet
	rt[pat.Post("/lock")] = l.HTTPSet
}

// Locker is a non-blocking lock with a list of route substrings it does not
// protect.
type Locker struct {
	mu     sync.Mutex
	locked bool

	// DoNotProtect lists path fragments exempt from the lock.
	DoNotProtect []string
}

// New returns a Locker which never blocks access to the lock itself.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "endpoints"}}
}

// Lock marks the facade busy.
func (l *Locker) Lock() {
	l.mu.Lock()
	l.locked = true
	l.mu.Unlock()
}

// Unlock marks the facade available.
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.locked = false
	l.mu.Unlock()
}

// Locked reports whether the facade is busy.
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Check is the middleware: protected routes get 423 while locked.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			for _, frag := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, frag) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks based on a {"bool": x} body.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the lock state as {"bool": x}.
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

/*Package comm provides connection management for remote lab equipment.

The data server and direct bench links are both plain stream transports;
this package holds a small connection pool with idle reclamation, io
wrappers for termination bytes and deadlines, and connection makers for
TCP and serial links with backoff on dial.
*/
package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the address and options needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a
// remote that will be closed if they are not in use, and re-opened as
// needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	// can assume chan and timer are created by NewPool in all methods.
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after all connections are returned to free them
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // timer used to destroy connections after all are returned
	maker   CreationFunc

	reclaiming bool // whether startReclaim's goroutine is running
	mu         *sync.Mutex
}

// NewPool creates a new Pool holding up to maxSize connections which are
// freed after they have all been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // nothing to reclaim initially
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  The consumer has exclusive use of the connection until
// it is returned with Put, or discarded with Destroy if it has gone bad
// (e.g., all calls error).
//
// If the error from Get is not nil, the connection must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	// stopping the timer can fail per its documentation, but a new
	// connection will be made on demand anyway, so it can be ignored.
	p.timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// check if they're all given out
	if p.onLease == p.maxSize {
		// wait for one to come back
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// no connection available and they aren't all out; make one.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a connection to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk connections should be Destroy()'d instead.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	// the send stays outside the lock; Get receives from the channel while
	// holding it when all connections are out
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	if len(p.conns) == p.maxSize {
		p.startReclaim()
	}
}

// ReturnWithError puts the connection back in the pool if err is nil, and
// destroys it otherwise.  It streamlines the common defer in callers.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err == nil {
		p.Put(rw)
	} else {
		p.Destroy(rw)
	}
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// Size returns the number of connections in the pool, or given out from it.
func (p *Pool) Size() int {
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out.
func (p *Pool) Active() int {
	return p.onLease
}

// startReclaim spawns a goroutine which closes all pooled connections after
// the idle timeout elapses.
func (p *Pool) startReclaim() {
	defer func() { p.reclaiming = true }()
	if !p.reclaiming {
		p.timer.Reset(p.timeout)
		go func() {
			defer func() { p.reclaiming = false }()
			<-p.timer.C
			for {
				select {
				case closer := <-p.conns:
					closer.Close()
				default:
					return
				}
			}
		}()
	}
}

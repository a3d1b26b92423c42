// Package listener binds the module's TCP entrypoint socket and dispatches
// each accepted connection's single framed request to the runtime.
package listener

import (
	"errors"
	"net"
	"sync"

	"github.com/r2northstar/authexec/pkg/runtime"
	"github.com/rs/zerolog"
)

// ErrListenerClosed is returned by Serve after Close stops it, grounded on
// the teacher's nspkt.Listener shutdown signaling.
var ErrListenerClosed = errors.New("listener closed")

// Dispatcher is the subset of *runtime.Runtime the listener depends on.
type Dispatcher interface {
	Dispatch(payload []byte) runtime.ResultMessage
}

// Listener binds the module's TCP port, accepts connections, reads exactly
// one framed request per connection, dispatches it, and writes exactly one
// framed reply before closing (§4.10).
type Listener struct {
	mu      sync.Mutex
	ln      net.Listener
	closing bool
	serve   <-chan struct{}

	rt         Dispatcher
	log        zerolog.Logger
	numThreads int
}

// New returns a Listener that dispatches accepted requests to rt using a
// fixed pool of numThreads-1 workers beside the accepting goroutine (or none,
// serving sequentially, when numThreads == 1). numThreads == 0 is a fatal configuration error handled
// by the caller before constructing the Listener (§4.10).
func New(rt Dispatcher, log zerolog.Logger, numThreads int) *Listener {
	return &Listener{rt: rt, log: log, numThreads: numThreads}
}

// ListenAndServe binds addr and calls Serve.
func (l *Listener) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Serve(ln)
}

// Serve accepts connections from ln until it is closed or Close is called.
// If numThreads == 1, connections are served sequentially on the calling
// goroutine. If numThreads > 1, accept happens on the calling goroutine and
// each accepted connection is handed to a fixed-size pool of numThreads-1
// worker goroutines.
func (l *Listener) Serve(ln net.Listener) error {
	serve := make(chan struct{})
	defer close(serve)
	defer ln.Close()

	l.mu.Lock()
	l.ln = ln
	l.closing = false
	l.serve = serve
	l.mu.Unlock()

	l.log.Info().Str("addr", ln.Addr().String()).Int("num_threads", l.numThreads).
		Msg("listener: serving")

	if l.numThreads <= 1 {
		return l.acceptLoop(ln, func(conn net.Conn) { l.handle(conn) })
	}

	work := make(chan net.Conn)
	var wg sync.WaitGroup
	for i := 0; i < l.numThreads-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range work {
				l.handle(conn)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	return l.acceptLoop(ln, func(conn net.Conn) { work <- conn })
}

func (l *Listener) acceptLoop(ln net.Listener, dispatch func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.ln = nil
			l.mu.Unlock()
			if closing {
				return ErrListenerClosed
			}
			return err
		}
		dispatch(conn)
	}
}

// handle reads exactly one framed request from conn, dispatches it, writes
// exactly one framed reply, then closes conn.
func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	req, err := runtime.ReadFrame(conn)
	if err != nil {
		l.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).
			Msg("listener: read request failed")
		return
	}

	result := l.rt.Dispatch(req)

	if err := runtime.WriteResult(conn, result); err != nil {
		l.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).
			Msg("listener: write reply failed")
	}
}

// Close stops accepting new connections and waits for Serve to return. In
// flight worker goroutines finish their current request before Serve's
// deferred wait group drain returns.
func (l *Listener) Close() {
	var serve <-chan struct{}

	l.mu.Lock()
	if l.ln != nil {
		l.closing = true
		l.ln.Close()
		serve = l.serve
	}
	l.mu.Unlock()

	if serve != nil {
		<-serve
	}
}

// Addr returns the bound address, or nil if not currently serving.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

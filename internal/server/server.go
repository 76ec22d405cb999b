// Package server implements a WebSocket relay: every data frame a client sends
// is forwarded to the other connected clients.
package server

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	log "github.com/sirupsen/logrus"
)

// Option configures a Server.
type Option func(*Server)

// WithEcho makes the relay send every frame back to its sender too.
func WithEcho() Option {
	return func(s *Server) { s.echo = true }
}

// WithLogger sets the log entry of the server.
func WithLogger(entry *log.Entry) Option {
	return func(s *Server) {
		if entry != nil {
			s.log = entry
		}
	}
}

// Server represents a WebSocket relay server.
type Server struct {
	address string
	echo    bool
	log     *log.Entry
	hub     *hub

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Server instance listening on address once started.
func New(address string, opts ...Option) *Server {
	s := &Server{
		address: address,
		log:     log.WithField("component", "relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.log)
	return s
}

// Handler returns the upgrade handler; every path accepts WebSocket clients.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Start listens and serves until Stop is called, in which case it returns nil.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(s.log.WriterLevel(log.WarnLevel), "", 0),
	}
	s.mu.Lock()
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	s.log.Infof("relay server started on %s", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop closes the listener and every client connection and waits for the
// client goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()
		if srv != nil {
			_ = srv.Close()
		}
		s.hub.closeAll()
		s.wg.Wait()
		s.log.Info("relay server stopped")
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade connection")
		return
	}

	p := newPeer(conn, r.RemoteAddr)
	s.hub.register(p)
	s.log.WithField("peer", p.addr).Debug("client connected")

	var src io.Reader = conn
	if rw != nil {
		src = rw.Reader
	}

	s.wg.Add(2)
	go s.readLoop(p, src)
	go s.writeLoop(p)
}

// readLoop forwards data frames and answers control frames until the client goes away.
func (s *Server) readLoop(p *peer, src io.Reader) {
	defer s.wg.Done()
	defer func() {
		s.hub.unregister(p)
		close(p.outgoing)
		_ = p.conn.Close()
		s.log.WithField("peer", p.addr).Debug("client disconnected")
	}()

	control := wsutil.ControlFrameHandler(p, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			logReadError(s.log.WithField("peer", p.addr), err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				logReadError(s.log.WithField("peer", p.addr), err)
				return
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			logReadError(s.log.WithField("peer", p.addr), err)
			return
		}
		s.hub.broadcast(frame{op: hdr.OpCode, data: data}, p, s.echo)
	}
}

func (s *Server) writeLoop(p *peer) {
	defer s.wg.Done()
	for f := range p.outgoing {
		if err := p.writeFrame(f); err != nil {
			s.log.WithError(err).WithField("peer", p.addr).Warn("failed to write to client")
			_ = p.conn.Close()
			return
		}
	}
}

func logReadError(entry *log.Entry, err error) {
	var closed wsutil.ClosedError
	switch {
	case errors.As(err, &closed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		entry.Debug("connection closed")
	default:
		entry.WithError(err).Warn("read failed")
	}
}

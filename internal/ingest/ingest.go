// Package ingest accepts AudioSocket connections and runs each one as
// a dictation session. A new connection replaces whatever session is
// running; the manager guarantees the old input is released first.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/CyCoreSystems/audiosocket"

	"github.com/voxwrite/dictated/internal/capture"
	"github.com/voxwrite/dictated/internal/dictation"
	"github.com/voxwrite/dictated/internal/recording"
)

// Options wires the listener to the dictation manager. Review, when
// set, attaches each live connection as the playback output so the
// caller can hear the last completed recording.
type Options struct {
	Manager *dictation.Manager
	Review  *recording.SwitchSink
	Logger  *slog.Logger
}

type Server struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts:     opts,
		log:      log.With("component", "ingest"),
		shutdown: make(chan struct{}),
	}
}

// Listen binds addr and serves until Stop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Stop closes the listener and waits for connection handlers to
// return. Sessions still settling are the manager's to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.shutdown) })
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	id, err := audiosocket.GetID(conn)
	if err != nil {
		s.log.Warn("connection rejected before id", "remote", remote, "error", err)
		return
	}
	log := s.log.With("feed", id.String(), "remote", remote)
	log.Info("feed connected")

	if s.opts.Review != nil {
		sink := recording.NewSocketSink(conn, s.log)
		s.opts.Review.Attach(sink)
		defer s.opts.Review.Detach(sink)
	}

	dev := capture.NewSocketDevice(conn, s.log)
	sess, err := s.opts.Manager.Start(context.Background(), dev)
	if err != nil {
		log.Error("session start failed", "error", err)
		return
	}
	log = log.With("session", sess.ID())

	select {
	case <-sess.Done():
		log.Info("feed session settled", "status", string(sess.Status()))
	case <-s.shutdown:
		// closing the connection ends the input; the manager settles
		// the session on its own
		log.Info("feed closed by shutdown")
	}
}

// Package sbus exposes the emulated I3C bridge on a TCP socket so an
// external test harness can exchange frames with firmware. One client
// is served at a time; frames are length-prefixed in both directions.
package sbus

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"

	"github.com/emucraft/socorn/models"
	"github.com/emucraft/socorn/periph"
)

type frame struct {
	Len  uint16 `struc:"uint16,sizeof=Data"`
	Data []byte
}

// Server owns a listener bound at construction, so a port clash fails
// emulator init instead of some later send.
type Server struct {
	ln     net.Listener
	dev    *periph.I3c
	logger *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func New(port int, dev *periph.I3c, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "sbus listen on %d: %v", port, err)
	}
	s := &Server{ln: ln, dev: dev, logger: logger}
	go s.acceptLoop()
	return s, nil
}

// Port reports the bound port, which differs from the requested one
// when 0 was asked for.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		if s.conn != nil {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conn = conn
		s.mu.Unlock()

		s.logger.Info("sbus client connected",
			log.String("addr", conn.RemoteAddr().String()))
		s.dev.SetSink(func(p []byte) error {
			return struc.Pack(conn, &frame{Data: p})
		})
		go s.readLoop(conn)
	}
}

func (s *Server) readLoop(conn net.Conn) {
	for {
		var f frame
		if err := struc.Unpack(conn, &f); err != nil {
			if err != io.EOF {
				s.logger.Debug("sbus connection ended", log.Err(err))
			}
			break
		}
		s.dev.Push(f.Data)
	}
	s.dev.SetSink(nil)
	conn.Close()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return s.ln.Close()
}

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const connDeadline = 5 * time.Second

// StatusProvider is what the server needs from the running process.
type StatusProvider interface {
	Status() StatusData
	Stop()
}

// Server is a unix domain socket server for status and stop requests.
type Server struct {
	provider StatusProvider
	log      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer creates a server answering from provider.
func NewServer(provider StatusProvider, logger zerolog.Logger) *Server {
	return &Server{
		provider: provider,
		log:      logger.With().Str("component", "ipc").Logger(),
	}
}

// Listen accepts connections on socketPath until ctx is cancelled or Stop
// is called, then removes the socket file. A stale socket file is replaced.
// Connections still being answered are left to Stop to drain.
func (s *Server) Listen(ctx context.Context, socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("socket", socketPath).Msg("status socket listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop stops accepting connections and waits up to connDeadline for
// in-flight ones to drain. It is safe to call after Listen has returned.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(connDeadline):
		return errors.New("drain timeout: connections still open")
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		writeError(conn, "empty request")
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		writeError(conn, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.log.Debug().Str("command", req.Command).Msg("request")

	switch req.Command {
	case CmdPing:
		writeData(conn, "pong")

	case CmdStatus:
		writeData(conn, s.provider.Status())

	case CmdStop:
		writeData(conn, "shutting down")
		s.provider.Stop()

	default:
		writeError(conn, fmt.Sprintf("unknown command: %q", req.Command))
	}
}

func writeData(conn net.Conn, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(conn, fmt.Sprintf("marshal response: %v", err))
		return
	}
	writeResponse(conn, Response{OK: true, Data: raw})
}

func writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func writeError(conn net.Conn, msg string) {
	writeResponse(conn, Response{OK: false, Error: msg})
}

package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxLineBytes bounds a single stdio request line.
const maxLineBytes = 1 << 20

// StdioServer serves newline-delimited JSON-RPC over a reader/writer pair,
// typically stdin and stdout.
type StdioServer struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	writeMu    sync.Mutex
}

// NewStdioServer creates a line-oriented JSON-RPC server.
func NewStdioServer(dispatcher *Dispatcher, in io.Reader, out io.Writer) (*StdioServer, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if in == nil || out == nil {
		return nil, errors.New("input and output streams cannot be nil")
	}
	return &StdioServer{dispatcher: dispatcher, in: in, out: out}, nil
}

// Serve reads requests until EOF or context cancellation. Each input line
// is one request; each response is written as one line.
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := s.writeLine(s.dispatcher.DispatchRaw(line)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
	}).Info("Stdio RPC input closed")
	return nil
}

func (s *StdioServer) writeLine(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	_, err := s.out.Write([]byte("\n"))
	return err
}

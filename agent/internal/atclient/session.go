package atclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotBX310 is returned by Init when ATI does not identify a BX31 module.
	ErrNotBX310 = errors.New("atclient: device is not a BX310x module")

	// ErrCommandFailed wraps a final result other than OK.
	ErrCommandFailed = errors.New("atclient: command failed")

	// ErrClosed is returned once the underlying stream is closed or broken.
	ErrClosed = errors.New("atclient: session closed")
)

// identityPrefix starts the ATI identification line of every BX31 variant.
const identityPrefix = "BX31"

// lineBuffer bounds the lines read ahead of the current command.
const lineBuffer = 512

// Response is the outcome of one command.
type Response struct {
	// Lines are the intermediate response lines in arrival order.
	Lines []string
	// Final is the final result code line.
	Final string
}

// OK reports whether the command completed with the OK result code.
func (r Response) OK() bool { return r.Final == "OK" }

// Session is an AT command channel over a serial stream. Commands are
// serialised; it is safe for concurrent use.
type Session struct {
	rw      io.ReadWriteCloser
	timeout time.Duration

	cmdMu sync.Mutex
	lines chan string

	mu      sync.Mutex
	readErr error
}

// NewSession starts reading rw. timeout bounds each Command; zero means the
// caller's context alone bounds it.
func NewSession(rw io.ReadWriteCloser, timeout time.Duration) *Session {
	s := &Session{
		rw:      rw,
		timeout: timeout,
		lines:   make(chan string, lineBuffer),
	}
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	sc := bufio.NewScanner(s.rw)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.lines <- line
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	close(s.lines)
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Errorf("%w: %v", ErrClosed, s.readErr)
}

// Command sends cmd and waits for its final result. A final result other
// than OK returns the response together with an error wrapping
// ErrCommandFailed.
func (s *Session) Command(ctx context.Context, cmd string) (Response, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.discardStale()

	if _, err := io.WriteString(s.rw, cmd+"\r\n"); err != nil {
		return Response{}, fmt.Errorf("atclient: write %q: %w", cmd, err)
	}

	var resp Response
	for {
		select {
		case <-ctx.Done():
			return resp, fmt.Errorf("atclient: %q: %w", cmd, ctx.Err())
		case line, ok := <-s.lines:
			if !ok {
				return resp, s.closedErr()
			}
			if line == cmd {
				continue // echo
			}
			if isFinal(line) {
				resp.Final = line
				if !resp.OK() {
					return resp, fmt.Errorf("%w: %q: %s", ErrCommandFailed, cmd, line)
				}
				return resp, nil
			}
			resp.Lines = append(resp.Lines, line)
		}
	}
}

// discardStale drops lines that arrived outside any command, such as the
// late final result of a command that timed out.
func (s *Session) discardStale() {
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return
			}
			slog.Debug("atclient: discarding stale line", "line", line)
		default:
			return
		}
	}
}

func isFinal(line string) bool {
	return line == "OK" || line == "ERROR" || strings.HasPrefix(line, "+CME ERROR")
}

// Init runs the BX310x bring-up script. Only a failed identity check or a
// broken stream is fatal; the module's answers to the configuration commands
// are logged.
func (s *Session) Init(ctx context.Context) error {
	slog.Info("atclient: cleaning AT interface")
	if _, err := s.Command(ctx, "AT"); err != nil && !errors.Is(err, ErrCommandFailed) {
		return err
	}

	slog.Info("atclient: checking BX310x presence")
	resp, err := s.Command(ctx, "ATI")
	if err != nil {
		return err
	}
	if len(resp.Lines) == 0 || !strings.HasPrefix(resp.Lines[0], identityPrefix) {
		return fmt.Errorf("%w: ATI answered %q", ErrNotBX310, resp.Lines)
	}
	slog.Info("atclient: module identified", "ati", resp.Lines[0])

	steps := []struct {
		cmd, what string
		ignore    bool
	}{
		{"AT+SRWCFG=0", "disable wifi", false},
		{"AT+SRBTSYSTEM=1", "enable bluetooth", false},
		{"AT+SRBTPS=0", "disable bluetooth power save", false},
		{"AT+SRBLEADV=1", "reset own advertising", true},
		{"AT+SRBLEADV=0", "disable own advertising", false},
	}
	for _, st := range steps {
		_, err := s.Command(ctx, st.cmd)
		switch {
		case err == nil:
			slog.Debug("atclient: "+st.what, "cmd", st.cmd)
		case errors.Is(err, ErrCommandFailed):
			if !st.ignore {
				slog.Warn("atclient: "+st.what+" failed", "cmd", st.cmd, "err", err)
			}
		default:
			return err
		}
	}
	return nil
}

// Scan runs cmd and returns its intermediate lines. Lines are only returned
// when the module answers OK.
func (s *Session) Scan(ctx context.Context, cmd string) ([]string, error) {
	resp, err := s.Command(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Close closes the underlying stream, which also stops the reader.
func (s *Session) Close() error {
	return s.rw.Close()
}

// Scanner runs a fixed scan command on a Session.
type Scanner struct {
	Session *Session
	Command string
}

// Scan runs the scan command once.
func (sc Scanner) Scan(ctx context.Context) ([]string, error) {
	return sc.Session.Scan(ctx, sc.Command)
}

package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Replay is a Source that plays back captured scan output.
//
// The capture is the module's raw output: each scan is a run of lines closed
// by an "OK" line. A capture without OK lines is a single scan. Each Scan call
// returns the next scan; after the last one Scan returns io.EOF, or starts
// over when Loop is set.
type Replay struct {
	Loop bool

	mu    sync.Mutex
	scans [][]string
	next  int
}

// NewReplay parses a capture from r.
func NewReplay(r io.Reader, loop bool) (*Replay, error) {
	var (
		scans   [][]string
		current []string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "OK":
			scans = append(scans, current)
			current = nil
		default:
			current = append(current, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: read capture: %w", err)
	}
	if len(current) > 0 {
		scans = append(scans, current)
	}
	return &Replay{Loop: loop, scans: scans}, nil
}

// OpenReplay reads the capture file at path.
func OpenReplay(path string, loop bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open capture: %w", err)
	}
	defer f.Close()
	return NewReplay(f, loop)
}

// Scan returns the next captured scan.
func (r *Replay) Scan(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.scans) {
		if !r.Loop || len(r.scans) == 0 {
			return nil, io.EOF
		}
		r.next = 0
	}
	lines := r.scans[r.next]
	r.next++
	return lines, nil
}

// Len returns the number of scans in the capture.
func (r *Replay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scans)
}

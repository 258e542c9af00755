// Package roomlog provides append-only per-room log sinks, one dated file
// per room under a common directory.
package roomlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	fileDateLayout   = "20060102"
	bannerTimeLayout = "2006-01-02 15:04:05"
)

// Provider opens sinks inside a single log directory.
type Provider struct {
	dir string
}

// NewProvider ensures dir exists and returns a provider rooted there.
func NewProvider(dir string) (*Provider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create room log dir: %w", err)
	}
	return &Provider{dir: dir}, nil
}

// Open creates or reopens the room's log file for appending and writes an
// opening banner. The sink stays open for the room's lifetime.
func (p *Provider) Open(room string) (*Sink, error) {
	name := fmt.Sprintf("%s_%s.log", filepath.Base(room), time.Now().Format(fileDateLayout))
	f, err := os.OpenFile(filepath.Join(p.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open room log: %w", err)
	}

	s := &Sink{f: f, room: room}
	s.Append(fmt.Sprintf("--- Room '%s' created/opened at %s ---", room, time.Now().Format(bannerTimeLayout)))
	return s, nil
}

// Sink appends lines to one room's log file. Append may be called from any
// goroutine in the room's broadcast path.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	room string
}

// Append writes one line to the log.
func (s *Sink) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.f, line)
}

// Close writes a closing banner and closes the file.
func (s *Sink) Close() error {
	s.Append(fmt.Sprintf("--- Room '%s' closed at %s ---", s.room, time.Now().Format(bannerTimeLayout)))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

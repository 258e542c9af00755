package core

import "io"

// Conn is the framed connection a session talks through: newline-delimited
// text plus raw binary payloads multiplexed over one duplex stream. The
// session is the only reader; Read pulls raw payload bytes from the same
// buffer that serves ReadLine, so the two modes never lose data across a
// protocol switch.
type Conn interface {
	io.Reader
	ReadLine() (string, error)
	WriteLine(line string) error
	// WriteExclusive runs fn while holding the connection's write lock, so
	// a sentinel, its metadata lines and the binary payload go out as one
	// uninterrupted block even while other goroutines broadcast lines.
	WriteExclusive(fn func(w BatchWriter) error) error
	Close() error
	RemoteAddr() string
}

// BatchWriter writes lines and raw bytes inside a WriteExclusive block.
type BatchWriter interface {
	io.Writer
	WriteLine(line string) error
}

// LogSink receives append-only lines for one room.
type LogSink interface {
	Append(line string)
	Close() error
}

// SinkProvider opens the log sink for a newly registered room.
type SinkProvider func(room string) (LogSink, error)

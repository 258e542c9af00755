// Package tcp provides the raw-socket transport: a framed connection
// multiplexing newline text and length-announced binary payloads over one
// stream, and the accept loop that turns connections into sessions.
package tcp

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/chatline/chatline-server/internal/core"
)

// Conn wraps a net.Conn with line-oriented text I/O and raw binary I/O over
// the same stream. A single bufio.Reader serves both modes, so payload bytes
// buffered behind a sentinel line are not lost when the protocol switches to
// binary. Writes from different goroutines are serialized by a mutex.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader
	wmu sync.Mutex
}

// NewConn frames a raw connection.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, br: bufio.NewReader(raw)}
}

// ReadLine reads one newline-terminated line, with the trailing \n (and \r)
// stripped. A final unterminated line before EOF is still returned.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Read pulls raw payload bytes from the shared read buffer.
func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// ReadFull reads exactly len(p) bytes, returning however many it got along
// with io.ErrUnexpectedEOF if the stream ends early.
func (c *Conn) ReadFull(p []byte) (int, error) {
	return io.ReadFull(c.br, p)
}

// WriteLine writes one line followed by a newline.
func (c *Conn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.raw.Write(append([]byte(line), '\n'))
	return err
}

// WriteExclusive holds the write lock for the duration of fn, keeping a
// sentinel, its metadata lines and the binary payload contiguous on the wire.
func (c *Conn) WriteExclusive(fn func(w core.BatchWriter) error) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return fn(batchWriter{c})
}

// Close closes the underlying connection, unblocking any pending reads.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// batchWriter writes without taking the lock; the caller already holds it.
type batchWriter struct {
	c *Conn
}

func (w batchWriter) Write(p []byte) (int, error) {
	return w.c.raw.Write(p)
}

func (w batchWriter) WriteLine(line string) error {
	_, err := w.c.raw.Write(append([]byte(line), '\n'))
	return err
}

package tcp_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatline/chatline-server/internal/core"
	"github.com/chatline/chatline-server/internal/store/disk"
	"github.com/chatline/chatline-server/internal/transport/tcp"
)

var defaultRooms = []string{"General", "Science", "Gaming"}

// startServer brings up a full server on a loopback listener and returns its
// address.
func startServer(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	st, err := disk.New(":memory:", filepath.Join(dir, "files"), filepath.Join(dir, "voices"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry, err := core.NewRegistry(nil, defaultRooms, zerolog.Nop())
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}

	srv := tcp.NewServer("", registry, core.NewDirectory(), st, "General", 10<<20, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	return ln.Addr().String()
}

// wireClient speaks the raw protocol over a real TCP connection, mixing line
// reads with exact-length binary reads off one buffered reader.
type wireClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dialWire(t *testing.T, addr, name string) *wireClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &wireClient{t: t, conn: conn, br: bufio.NewReader(conn)}
	c.expect("Enter username:")
	c.sendLine(name)
	c.expect(name + " has joined the room")
	c.expect("Available rooms:")
	for range defaultRooms {
		c.readLine()
	}
	return c
}

func (c *wireClient) sendLine(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

func (c *wireClient) sendBytes(b []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("send payload: %v", err)
	}
}

func (c *wireClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.br.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *wireClient) readFull(n int64) []byte {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		c.t.Fatalf("read %d payload bytes: %v", n, err)
	}
	return buf
}

func (c *wireClient) expect(want string) {
	c.t.Helper()
	if got := c.readLine(); got != want {
		c.t.Fatalf("expected %q, got %q", want, got)
	}
}

// expectEventually reads lines until want arrives, asserting every
// intermediate line matches allowed.
func (c *wireClient) expectEventually(want, allowed string) {
	c.t.Helper()
	re := regexp.MustCompile(allowed)
	for i := 0; i < 32; i++ {
		got := c.readLine()
		if got == want {
			return
		}
		if !re.MatchString(got) {
			c.t.Fatalf("unexpected line %q while waiting for %q", got, want)
		}
	}
	c.t.Fatalf("never saw %q", want)
}

func TestFileTransferRoundTrip(t *testing.T) {
	addr := startServer(t)
	alice := dialWire(t, addr, "alice")

	payload := bytes.Repeat([]byte("chatline"), 4096)

	alice.sendLine("/sendfile")
	alice.expect("READY_TO_RECEIVE_FILE")
	alice.sendLine("hello.txt")
	alice.sendLine(strconv.Itoa(len(payload)))
	alice.sendBytes(payload)

	// Progress lines depend on read chunking; only their shape is fixed.
	alice.expectEventually("File uploaded successfully as: hello.txt",
		`^File upload: \d+% completed$`)

	alice.sendLine("/listfiles")
	alice.expect("Available shared files:")
	entry := alice.readLine()
	m := regexp.MustCompile(`^- (\d+_hello\.txt) \(32\.00 KB\)$`).FindStringSubmatch(entry)
	if m == nil {
		t.Fatalf("unexpected listing entry %q", entry)
	}
	id := m[1]
	alice.expect("Use /getfile FileName to download a file")

	alice.sendLine("/getfile " + id)
	alice.expect("SENDING_FILE")
	alice.expect("hello.txt")
	size, err := strconv.ParseInt(alice.readLine(), 10, 64)
	if err != nil || size != int64(len(payload)) {
		t.Fatalf("announced size = %d, %v", size, err)
	}
	got := alice.readFull(size)
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded payload differs from upload")
	}
	alice.expect("File download complete: hello.txt")
}

func TestVoiceTransferRoundTrip(t *testing.T) {
	addr := startServer(t)
	alice := dialWire(t, addr, "alice")

	payload := bytes.Repeat([]byte{0x52, 0x49, 0x46, 0x46}, 512)

	alice.sendLine("/sendvoice")
	alice.expect("READY_TO_RECEIVE_VOICE")
	alice.sendLine("4000")
	alice.sendLine(strconv.Itoa(len(payload)))
	alice.sendBytes(payload)

	// Voice uploads report no progress; the next line is the confirmation.
	alice.expect("Voice message uploaded successfully (Duration: 4 seconds)")

	alice.sendLine("/listvoices")
	alice.expect("Available voice messages:")
	entry := alice.readLine()
	m := regexp.MustCompile(`^- (alice_\d+) \(2\.00 KB\)$`).FindStringSubmatch(entry)
	if m == nil {
		t.Fatalf("unexpected listing entry %q", entry)
	}
	id := m[1]
	alice.expect("Use /getvoice VoiceID to download a voice message")

	alice.sendLine("/getvoice " + id)
	alice.expect("SENDING_VOICE")
	size, err := strconv.ParseInt(alice.readLine(), 10, 64)
	if err != nil || size != int64(len(payload)) {
		t.Fatalf("announced size = %d, %v", size, err)
	}
	got := alice.readFull(size)
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded payload differs from upload")
	}
	alice.expect("Voice message download complete")
}

func TestUploadAnnouncesShareToRoom(t *testing.T) {
	addr := startServer(t)
	alice := dialWire(t, addr, "alice")
	bob := dialWire(t, addr, "bob")
	alice.expect("bob has joined the room")

	payload := []byte("tiny")
	alice.sendLine("/sendfile")
	alice.expect("READY_TO_RECEIVE_FILE")
	alice.sendLine("note.txt")
	alice.sendLine(strconv.Itoa(len(payload)))
	alice.sendBytes(payload)
	alice.expectEventually("File uploaded successfully as: note.txt",
		`^File upload: \d+% completed$`)

	// The share note spans two lines on the wire.
	line := bob.readLine()
	if !regexp.MustCompile(`^alice shared a file: note\.txt \(4\.00 B\)$`).MatchString(line) {
		t.Fatalf("share note = %q", line)
	}
	line = bob.readLine()
	if !regexp.MustCompile(`^Use /getfile \d+_note\.txt to download$`).MatchString(line) {
		t.Fatalf("share hint = %q", line)
	}

	// The uploader does not receive its own note.
	alice.sendLine("/rooms")
	alice.expect("Available rooms:")
}

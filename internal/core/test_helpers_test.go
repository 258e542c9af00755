package core_test

import (
	"bufio"
	"net"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatline/chatline-server/internal/core"
	"github.com/chatline/chatline-server/internal/store/disk"
	"github.com/chatline/chatline-server/internal/transport/tcp"
)

var defaultRooms = []string{"General", "Science", "Gaming", "Music", "Movies"}

type testEnv struct {
	registry  *core.Registry
	directory *core.Directory
	store     *disk.Store
}

func newTestEnv(t *testing.T) *testEnv {
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

	return &testEnv{
		registry:  registry,
		directory: core.NewDirectory(),
		store:     st,
	}
}

// connect starts a session over an in-memory pipe and returns the client end.
func (e *testEnv) connect(t *testing.T) *testClient {
	t.Helper()

	server, client := net.Pipe()
	sess := core.NewSession(tcp.NewConn(server), core.Deps{
		ID:          "test",
		Registry:    e.registry,
		Directory:   e.directory,
		Store:       e.store,
		DefaultRoom: "General",
		MaxTransfer: 10 << 20,
		Logger:      zerolog.Nop(),
	})
	go sess.Run()

	return newTestClient(t, client)
}

// dial connects and completes authentication, consuming the greeting (join
// notice plus room listing).
func (e *testEnv) dial(t *testing.T, name string) *testClient {
	t.Helper()

	c := e.connect(t)
	c.expect("Enter username:")
	c.sendLine(name)
	c.expect(name + " has joined the room")
	c.expect("Available rooms:")
	for range e.registry.List() {
		c.next()
	}
	return c
}

type testClient struct {
	t     *testing.T
	conn  net.Conn
	lines chan string
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()

	c := &testClient{t: t, conn: conn, lines: make(chan string, 256)}
	t.Cleanup(func() { conn.Close() })

	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
		close(c.lines)
	}()
	return c
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

func (c *testClient) next() string {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		if !ok {
			c.t.Fatal("connection closed while waiting for a line")
		}
		return line
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for a line")
	}
	return ""
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	if got := c.next(); got != want {
		c.t.Fatalf("expected %q, got %q", want, got)
	}
}

func (c *testClient) expectMatch(pattern string) string {
	c.t.Helper()
	got := c.next()
	if !regexp.MustCompile(pattern).MatchString(got) {
		c.t.Fatalf("expected line matching %q, got %q", pattern, got)
	}
	return got
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("expected connection to close")
		}
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chatline/chatline-server/internal/store"
)

// outboundQueueSize bounds the per-session delivery queue. A full queue
// drops lines instead of stalling the broadcaster.
const outboundQueueSize = 256

var whitespace = regexp.MustCompile(`\s+`)

// Deps carries the shared state a session operates on. Registries are
// injected, not ambient.
type Deps struct {
	ID          string
	Registry    *Registry
	Directory   *Directory
	Store       store.TransferStore
	DefaultRoom string
	MaxTransfer int64
	Logger      zerolog.Logger
}

// Session serves one connected client for the lifetime of one connection.
// All reads happen on the goroutine running Run; outbound lines funnel
// through a buffered queue drained by a writer goroutine, so a slow reader
// never blocks whoever is broadcasting to it.
type Session struct {
	conn Conn
	deps Deps
	log  zerolog.Logger

	// username is set once during authentication, before the session
	// becomes visible through the directory or any room.
	username string

	mu   sync.Mutex
	room *Room

	out  chan outMsg
	done chan struct{}
	once sync.Once
}

type outMsg struct {
	line string
	// flushed marks a barrier: the pump closes it instead of writing.
	flushed chan struct{}
}

// NewSession wraps a framed connection into an unauthenticated session.
func NewSession(conn Conn, deps Deps) *Session {
	return &Session{
		conn: conn,
		deps: deps,
		log:  deps.Logger.With().Str("session_id", deps.ID).Str("remote", conn.RemoteAddr()).Logger(),
		out:  make(chan outMsg, outboundQueueSize),
		done: make(chan struct{}),
	}
}

// Username returns the name claimed at authentication.
func (s *Session) Username() string { return s.username }

// CurrentRoom returns the room the session is in, or nil when roomless.
func (s *Session) CurrentRoom() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(r *Room) {
	s.mu.Lock()
	s.room = r
	s.mu.Unlock()
}

// Close shuts the connection; the serving goroutine then finishes cleanup.
func (s *Session) Close() {
	s.conn.Close()
}

// Run drives the session from authentication through the command loop until
// the peer disconnects. Cleanup runs exactly once on every exit path.
func (s *Session) Run() {
	defer s.teardown()
	go s.writePump()

	if !s.authenticate() {
		return
	}

	if room, ok := s.deps.Registry.Get(s.deps.DefaultRoom); ok {
		s.setRoom(room)
		room.AddMember(s)
	}
	s.sendRoomList()

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return
		}
		if err := s.dispatch(strings.TrimSpace(line)); err != nil {
			s.log.Debug().Err(err).Msg("session i/o failed")
			return
		}
	}
}

// authenticate prompts for a username and claims it in the directory. The
// claim is a single atomic check-and-insert; on rejection the session sends
// an explanatory line and disconnects without a retry loop. Writes go
// straight to the connection here: nobody can broadcast to an unregistered
// session yet.
func (s *Session) authenticate() bool {
	if err := s.conn.WriteLine("Enter username:"); err != nil {
		return false
	}
	line, err := s.conn.ReadLine()
	if err != nil {
		return false
	}

	name := strings.TrimSpace(line)
	if err := s.deps.Directory.Register(name, s); err != nil {
		switch {
		case errors.Is(err, ErrInvalidUsername):
			s.conn.WriteLine("Invalid username")
		case errors.Is(err, ErrUsernameTaken):
			s.conn.WriteLine("Username already exists")
		}
		s.log.Info().Str("name", name).Err(err).Msg("authentication rejected")
		return false
	}

	s.username = name
	s.log = s.log.With().Str("user", name).Logger()
	s.log.Info().Msg("authenticated")
	return true
}

func (s *Session) teardown() {
	s.once.Do(func() {
		if s.username != "" {
			s.deps.Directory.Unregister(s.username)
		}
		if room := s.CurrentRoom(); room != nil {
			s.setRoom(nil)
			room.RemoveMember(s)
		}
		close(s.done)
		s.conn.Close()
		s.log.Info().Msg("session closed")
	})
}

// send queues a line for delivery. Never blocks; a line for a session whose
// queue is full is dropped.
func (s *Session) send(line string) {
	select {
	case s.out <- outMsg{line: line}:
	default:
		s.log.Warn().Msg("outbound queue full, dropping line")
	}
}

// flush blocks until every line queued so far has been written, so a binary
// block started afterwards cannot overtake pending replies.
func (s *Session) flush() {
	barrier := make(chan struct{})
	select {
	case s.out <- outMsg{flushed: barrier}:
	case <-s.done:
		return
	}
	select {
	case <-barrier:
	case <-s.done:
	}
}

func (s *Session) writePump() {
	broken := false
	for {
		select {
		case m := <-s.out:
			if m.flushed != nil {
				close(m.flushed)
				continue
			}
			if broken {
				continue
			}
			if err := s.conn.WriteLine(m.line); err != nil {
				s.log.Debug().Err(err).Msg("outbound write failed")
				s.conn.Close() // unblock the read loop
				broken = true
			}
		case <-s.done:
			return
		}
	}
}

// dispatch matches one trimmed input line against the command grammar,
// falling back to a plain room broadcast. A returned error means the
// connection is no longer usable.
func (s *Session) dispatch(msg string) error {
	switch {
	case strings.HasPrefix(msg, "/join "):
		s.joinRoom(argAfter(msg, "/join "))
	case msg == "/rooms":
		s.sendRoomList()
	case strings.HasPrefix(msg, "/create "):
		s.createRoom(argAfter(msg, "/create "))
	case msg == "/exit":
		s.exitRoom()
	case msg == "/members":
		s.listMembers()
	case msg == "/help":
		s.sendHelp()
	case strings.HasPrefix(msg, "/whisper "):
		s.whisper(msg)
	case msg == "/sendfile":
		return s.receiveFile()
	case strings.HasPrefix(msg, "/getfile "):
		return s.sendStoredFile(argAfter(msg, "/getfile "))
	case msg == "/listfiles":
		s.listArtifacts(store.KindFile)
	case msg == "/sendvoice":
		return s.receiveVoice()
	case strings.HasPrefix(msg, "/getvoice "):
		return s.sendStoredVoice(argAfter(msg, "/getvoice "))
	case msg == "/listvoices":
		s.listArtifacts(store.KindVoice)
	default:
		s.broadcastChat(msg)
	}
	return nil
}

func argAfter(msg, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(msg, prefix))
}

func (s *Session) joinRoom(name string) {
	room, ok := s.deps.Registry.Get(name)
	if !ok {
		s.send("Room " + name + " does not exist. Use /create to make a new room.")
		return
	}

	if current := s.CurrentRoom(); current != nil {
		current.RemoveMember(s)
	}
	s.setRoom(room)
	room.AddMember(s)
	s.send("Joined room: " + name)
}

func (s *Session) createRoom(name string) {
	if _, err := s.deps.Registry.Create(name); err != nil {
		s.send("Room " + name + " already exists.")
		return
	}
	s.send("Room " + name + " created successfully.")
}

func (s *Session) exitRoom() {
	room := s.CurrentRoom()
	if room == nil {
		s.send("You are not in a room.")
		return
	}

	s.setRoom(nil)
	room.RemoveMember(s)
	s.send("You have left the room.")
	s.sendRoomList()
}

func (s *Session) listMembers() {
	room := s.CurrentRoom()
	if room == nil {
		s.send("You are not in a room.")
		return
	}

	s.send("Members in " + room.Name + ":")
	for _, name := range room.MemberNames() {
		s.send("- " + name)
	}
}

func (s *Session) sendRoomList() {
	s.send("Available rooms:")
	for _, room := range s.deps.Registry.List() {
		s.send(fmt.Sprintf("%s (%d members)", room.Name, room.MemberCount()))
	}
}

func (s *Session) whisper(msg string) {
	parts := whitespace.Split(msg, 3)
	if len(parts) < 3 {
		s.send("Usage: /whisper [Username] [Message]")
		return
	}
	target, text := parts[1], parts[2]

	peer, ok := s.deps.Directory.Lookup(target)
	if !ok {
		s.send("User " + target + " not found.")
		return
	}

	line := formatWhisper(s.username, text)
	peer.send(line)
	s.send(line)

	senderRoom := s.CurrentRoom()
	peerRoom := peer.CurrentRoom()
	if senderRoom != nil {
		senderRoom.LogLine(line + " (to: " + target + ")")
	}
	if peerRoom != nil && peerRoom != senderRoom {
		peerRoom.LogLine(line + " (from: " + s.username + ")")
	}
}

func (s *Session) broadcastChat(text string) {
	room := s.CurrentRoom()
	if room == nil {
		s.send("You are not in a room. Use /join to enter a room.")
		return
	}

	line := formatRoomMessage(s.username, room.Name, text)
	room.Broadcast(line, s)
	s.send(line)
}

// receiveFile runs the file upload sub-protocol: readiness sentinel, then a
// filename line (or a cancellation sentinel), then the byte length, then
// exactly that many raw bytes. The size cap is enforced before any payload
// byte is read.
func (s *Session) receiveFile() error {
	s.send("READY_TO_RECEIVE_FILE")

	name, err := s.conn.ReadLine()
	if err != nil {
		return err
	}
	if name == "FILE_TRANSFER_CANCELLED" {
		return nil
	}

	size, ok, err := s.readSizeLine()
	if err != nil || !ok {
		return err
	}
	if size > s.deps.MaxTransfer {
		s.send("ERROR: File too large. Maximum size is " + FormatSize(s.deps.MaxTransfer))
		return nil
	}

	pr := &progressReader{
		r:     s.conn,
		total: size,
		emit: func(pct int) {
			s.send(fmt.Sprintf("File upload: %d%% completed", pct))
		},
	}
	art, err := s.deps.Store.SaveFile(context.Background(), name, s.username, size, pr)
	if err != nil {
		if errors.Is(err, store.ErrTruncated) {
			return err
		}
		s.log.Error().Err(err).Msg("file upload failed")
		s.send("Error receiving file: " + err.Error())
		return nil
	}

	s.send("File uploaded successfully as: " + art.OriginalName)

	if room := s.CurrentRoom(); room != nil {
		note := fmt.Sprintf("%s shared a file: %s (%s)\nUse /getfile %s to download",
			s.username, art.OriginalName, FormatSize(size), art.ID)
		room.Broadcast(note, s)
	}
	return nil
}

// receiveVoice mirrors receiveFile with a duration-ms line in place of the
// filename. Voice clips are identified by a generated id only.
func (s *Session) receiveVoice() error {
	s.send("READY_TO_RECEIVE_VOICE")

	durLine, err := s.conn.ReadLine()
	if err != nil {
		return err
	}
	if durLine == "VOICE_TRANSFER_CANCELLED" {
		return nil
	}
	durationMs, perr := strconv.ParseInt(strings.TrimSpace(durLine), 10, 64)
	if perr != nil || durationMs < 0 {
		s.send("ERROR: Invalid voice duration")
		s.log.Warn().Str("duration", durLine).Msg("malformed duration line")
		return nil
	}

	size, ok, err := s.readSizeLine()
	if err != nil || !ok {
		return err
	}
	if size > s.deps.MaxTransfer {
		s.send("ERROR: Voice message too large. Maximum size is " + FormatSize(s.deps.MaxTransfer))
		return nil
	}

	art, err := s.deps.Store.SaveVoice(context.Background(), s.username, durationMs, size, s.conn)
	if err != nil {
		if errors.Is(err, store.ErrTruncated) {
			return err
		}
		s.log.Error().Err(err).Msg("voice upload failed")
		s.send("Error receiving voice message: " + err.Error())
		return nil
	}

	seconds := durationMs / 1000
	s.send(fmt.Sprintf("Voice message uploaded successfully (Duration: %d seconds)", seconds))

	if room := s.CurrentRoom(); room != nil {
		note := fmt.Sprintf("%s shared a voice message (Duration: %d seconds)\nUse /getvoice %s to listen",
			s.username, seconds, art.ID)
		room.Broadcast(note, s)
	}
	return nil
}

// readSizeLine parses the announced byte length. A malformed size is a
// protocol violation: the transfer aborts with an error line but the
// session keeps running.
func (s *Session) readSizeLine() (int64, bool, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return 0, false, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if perr != nil || size < 0 {
		s.send("ERROR: Invalid transfer size")
		s.log.Warn().Str("size", line).Msg("malformed size line")
		return 0, false, nil
	}
	return size, true, nil
}

// sendStoredFile runs the download sub-protocol. The whole block, sentinel
// through completion line, goes out under the connection's write lock so
// concurrent broadcasts cannot land inside the payload.
func (s *Session) sendStoredFile(id string) error {
	rc, art, err := s.deps.Store.Open(context.Background(), store.KindFile, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Str("id", id).Msg("open file artifact")
		}
		s.send("ERROR: File not found")
		return nil
	}
	defer rc.Close()

	s.flush()
	return s.conn.WriteExclusive(func(w BatchWriter) error {
		if err := w.WriteLine("SENDING_FILE"); err != nil {
			return err
		}
		if err := w.WriteLine(art.OriginalName); err != nil {
			return err
		}
		if err := w.WriteLine(strconv.FormatInt(art.Size, 10)); err != nil {
			return err
		}
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
		return w.WriteLine("File download complete: " + art.OriginalName)
	})
}

func (s *Session) sendStoredVoice(id string) error {
	rc, art, err := s.deps.Store.Open(context.Background(), store.KindVoice, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Str("id", id).Msg("open voice artifact")
		}
		s.send("ERROR: Voice message not found")
		return nil
	}
	defer rc.Close()

	s.flush()
	return s.conn.WriteExclusive(func(w BatchWriter) error {
		if err := w.WriteLine("SENDING_VOICE"); err != nil {
			return err
		}
		if err := w.WriteLine(strconv.FormatInt(art.Size, 10)); err != nil {
			return err
		}
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
		return w.WriteLine("Voice message download complete")
	})
}

func (s *Session) listArtifacts(kind store.Kind) {
	header, empty, footer := "Available shared files:", "No shared files available", "Use /getfile FileName to download a file"
	if kind == store.KindVoice {
		header, empty, footer = "Available voice messages:", "No voice messages available", "Use /getvoice VoiceID to download a voice message"
	}

	arts, err := s.deps.Store.List(context.Background(), kind)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("list artifacts")
		s.send("Error listing files: " + err.Error())
		return
	}

	s.send(header)
	if len(arts) == 0 {
		s.send(empty)
		return
	}
	for _, a := range arts {
		s.send(fmt.Sprintf("- %s (%s)", a.ID, FormatSize(a.Size)))
	}
	s.send(footer)
}

func (s *Session) sendHelp() {
	for _, line := range []string{
		"Available commands:",
		"/join [RoomName] - Join a room",
		"/create [RoomName] - Create a new room",
		"/rooms - List available rooms",
		"/exit - Leave current room",
		"/members - List members in current room",
		"/whisper [Username] [Message] - Send private message",
		"/sendfile - Upload and share a file",
		"/getfile [FileName] - Download a shared file",
		"/listfiles - List all available files",
		"/sendvoice - Send a voice message",
		"/getvoice [VoiceID] - Download a voice message",
		"/listvoices - List all available voice messages",
		"/help - Show this help menu",
	} {
		s.send(line)
	}
}

// progressReader reports upload progress whenever the cumulative percentage
// crosses another 10-point threshold.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
	emit    func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		if pct >= p.lastPct+10 {
			p.lastPct = pct
			p.emit(pct)
		}
	}
	return n, err
}

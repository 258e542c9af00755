package roomlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSinkWritesBannersAndLines(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	sink, err := p.Open("General")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	sink.Append("[12:00] alice@General: hello")
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	name := "General_" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, "logs", name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "--- Room 'General' created/opened at ") {
		t.Fatalf("opening banner = %q", lines[0])
	}
	if lines[1] != "[12:00] alice@General: hello" {
		t.Fatalf("logged line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "--- Room 'General' closed at ") {
		t.Fatalf("closing banner = %q", lines[2])
	}
}

func TestReopenAppends(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	first, err := p.Open("Jazz")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first.Append("one")
	first.Close()

	second, err := p.Open("Jazz")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	second.Append("two")
	second.Close()

	name := "Jazz_" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "one\n") || !strings.Contains(text, "two\n") {
		t.Fatalf("appends lost across reopen: %q", text)
	}
	if strings.Index(text, "one") > strings.Index(text, "two") {
		t.Fatalf("lines out of order: %q", text)
	}
}

func TestSinkFileNameUsesBaseOfRoom(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(dir)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	sink, err := p.Open("../sneaky")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sink.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "sneaky_") {
		t.Fatalf("entries = %v", entries)
	}
}

package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathResolvesInsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	if got, want := Path(Config{Workspace: ws}), filepath.Join(ws, ".boardline", "boardline.db"); got != want {
		t.Fatalf("default path = %s, want %s", got, want)
	}
	if got, want := Path(Config{Workspace: ws, Name: "server.db"}), filepath.Join(ws, ".boardline", "server.db"); got != want {
		t.Fatalf("named path = %s, want %s", got, want)
	}
	abs := filepath.Join(t.TempDir(), "elsewhere.db")
	if got := Path(Config{Workspace: ws, Name: abs}); got != abs {
		t.Fatalf("absolute path = %s, want %s", got, abs)
	}
}

func TestOpenCreatesWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, ".boardline")); err != nil {
		t.Fatalf("workspace dir missing: %v", err)
	}
}

package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/rocky/internal/config"
	"github.com/ashureev/rocky/internal/store"
)

func TestRunShutsDownWhenServerFails(t *testing.T) {
	// Hold the port so ListenAndServe fails right away.
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Port = strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	cfg.DBPath = filepath.Join(t.TempDir(), "intake.db")
	cfg.GRPCHealthAddr = ""
	cfg.Transcript.Enabled = false
	cfg.Timeout.Shutdown = time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	done := make(chan error, 1)
	go func() { done <- run(cfg, logger) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "http server") {
			t.Fatalf("run error = %v, want http server failure", err)
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			t.Fatalf("run error = %v, want the listen error wrapped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the server failed")
	}

	// The repository was released on the way out, so it opens cleanly again.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	_ = repo.Close()
}

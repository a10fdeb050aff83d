package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"finrag/internal/domain"
	"finrag/internal/index"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBackupArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	db := filepath.Join(src, index.FileName)
	cfg := filepath.Join(src, "config.json")
	os.WriteFile(db, []byte("sqlite bytes"), 0o644)
	os.WriteFile(cfg, []byte(`{"general":{}}`), 0o600)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, []string{db, cfg}); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	restored, err := extractTarGz(archive, filepath.Join(dst, "corpus", index.FileName), filepath.Join(dst, "config.json"))
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored %d files, want 2", len(restored))
	}
	got, _ := os.ReadFile(filepath.Join(dst, "corpus", index.FileName))
	if string(got) != "sqlite bytes" {
		t.Errorf("index content = %q", got)
	}
}

func TestWriteEvents(t *testing.T) {
	events := make(chan domain.StreamEvent, 8)
	events <- domain.StreamEvent{Mode: domain.ModeUpdates, Update: &domain.NodeUpdate{Node: domain.NodeReasoning, Messages: []domain.Message{
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Name: "retrieve_context"}}},
	}}}
	events <- domain.StreamEvent{Mode: domain.ModeCustom, Custom: &domain.CustomEvent{Payload: `{"source":"retrieve_context","message":"found 2 passages"}`}}
	events <- domain.StreamEvent{Mode: domain.ModeMessages, Token: &domain.TokenDelta{MessageID: "m", Text: "Net income "}}
	events <- domain.StreamEvent{Mode: domain.ModeMessages, Token: &domain.TokenDelta{MessageID: "m", Text: "rose."}}
	events <- domain.StreamEvent{Mode: domain.ModeUpdates, Update: &domain.NodeUpdate{Node: domain.NodeDone, Messages: []domain.Message{
		{Role: domain.RoleAssistant, Content: "Net income rose."},
	}}}
	close(events)

	var out bytes.Buffer
	if err := writeEvents(&out, events); err != nil {
		t.Fatalf("writeEvents: %v", err)
	}
	want := strings.Join([]string{
		"[updates] reasoning: assistant requests retrieve_context",
		"[custom] retrieve_context: found 2 passages",
		"Net income rose.",
		"[updates] done: assistant message (16 chars)",
		"",
	}, "\n")
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestWriteEvents_ReportsFailure(t *testing.T) {
	events := make(chan domain.StreamEvent, 1)
	events <- domain.StreamEvent{Mode: domain.ModeError, Err: &domain.StreamError{Kind: domain.ErrorKindCancelled, Message: "context canceled"}}
	close(events)

	var out bytes.Buffer
	if err := writeEvents(&out, events); err == nil {
		t.Fatal("expected error for a terminal event")
	}
	if !strings.Contains(out.String(), "[error] cancelled") {
		t.Errorf("output = %q", out.String())
	}
}

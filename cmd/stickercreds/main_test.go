package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"sticker-convert/internal/database"
)

// setupTestDB creates a test database for integration tests
func setupTestDB(t *testing.T, passphrase string) *database.Database {
	t.Helper()

	db, err := database.Open(context.Background(), "", filepath.Join(t.TempDir(), "test.db"), passphrase)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close database: %v", err)
		}
	})
	return db
}

func runCmd(t *testing.T, db *database.Database, command string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), db, command, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestSetGetDelete(t *testing.T) {
	db := setupTestDB(t, "")

	if code, out, _ := runCmd(t, db, "set", "telegram", "token", "123:abc"); code != 0 || !strings.Contains(out, "telegram/token") {
		t.Fatalf("set: code %d, output %q", code, out)
	}
	if code, out, _ := runCmd(t, db, "get", "telegram", "token"); code != 0 || out != "123:abc\n" {
		t.Errorf("get: code %d, output %q", code, out)
	}
	if code, _, _ := runCmd(t, db, "delete", "telegram", "token"); code != 0 {
		t.Errorf("delete: code %d", code)
	}
	code, _, errOut := runCmd(t, db, "get", "telegram", "token")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("get after delete: code %d, stderr %q", code, errOut)
	}
}

func TestSetPrompts(t *testing.T) {
	db := setupTestDB(t, "")

	orig := readSecret
	t.Cleanup(func() { readSecret = orig })

	var prompt string
	readSecret = func(p string) (string, error) {
		prompt = p
		return "s3cret", nil
	}
	if code, _, _ := runCmd(t, db, "set", "signal", "password"); code != 0 {
		t.Fatalf("set: code %d", code)
	}
	if prompt != "signal password: " {
		t.Errorf("prompt = %q", prompt)
	}
	if v, err := db.GetCredential(context.Background(), "signal", "password"); err != nil || v != "s3cret" {
		t.Errorf("stored %q, %v", v, err)
	}

	readSecret = func(string) (string, error) { return "", errors.New("not a terminal") }
	if code, _, errOut := runCmd(t, db, "set", "signal", "uuid"); code != 1 || !strings.Contains(errOut, "not a terminal") {
		t.Errorf("prompt failure: code %d, stderr %q", code, errOut)
	}

	readSecret = func(string) (string, error) { return "  ", nil }
	if code, _, _ := runCmd(t, db, "set", "signal", "uuid"); code != 1 {
		t.Errorf("blank value: code %d, want 1", code)
	}
}

func TestListCredentials(t *testing.T) {
	db := setupTestDB(t, "passphrase")

	if code, out, _ := runCmd(t, db, "list"); code != 0 || !strings.Contains(out, "No credentials") {
		t.Errorf("empty list: code %d, output %q", code, out)
	}

	runCmd(t, db, "set", "telegram", "token", "123:abc")
	runCmd(t, db, "set", "telegram", "user_id", "42")
	runCmd(t, db, "set", "discord", "token", "xyz")

	code, out, _ := runCmd(t, db, "list", "telegram")
	if code != 0 {
		t.Fatalf("list: code %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "PLATFORM") {
		t.Fatalf("list output:\n%s", out)
	}
	if !strings.Contains(lines[1], "token") || !strings.Contains(lines[1], "true") {
		t.Errorf("row = %q, want a sealed token", lines[1])
	}
	if strings.Contains(out, "123:abc") {
		t.Error("list must not print values")
	}
}

func TestDeletePlatform(t *testing.T) {
	db := setupTestDB(t, "")
	runCmd(t, db, "set", "telegram", "token", "a")
	runCmd(t, db, "set", "telegram", "user_id", "1")

	if code, out, _ := runCmd(t, db, "delete", "telegram"); code != 0 || !strings.Contains(out, "all credentials") {
		t.Errorf("delete: code %d, output %q", code, out)
	}
	list, err := db.ListCredentials(context.Background(), "telegram")
	if err != nil || len(list) != 0 {
		t.Errorf("remaining = %+v, %v", list, err)
	}
	if code, _, _ := runCmd(t, db, "delete", "telegram"); code != 1 {
		t.Errorf("deleting nothing: code %d, want 1", code)
	}
}

func TestUsageErrors(t *testing.T) {
	db := setupTestDB(t, "")
	tests := []struct {
		command string
		args    []string
	}{
		{"set", []string{"telegram"}},
		{"get", []string{"telegram"}},
		{"list", []string{"a", "b"}},
		{"delete", nil},
		{"rm;-rf", nil},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			code, _, errOut := runCmd(t, db, tt.command, tt.args...)
			if code != 1 || !strings.Contains(errOut, "Usage: stickercreds") {
				t.Errorf("code %d, stderr %q", code, errOut)
			}
		})
	}

	if code, out, _ := runCmd(t, db, "help"); code != 0 || !strings.Contains(out, "Commands:") {
		t.Errorf("help: code %d", code)
	}
}

func TestSanitizeCommand(t *testing.T) {
	tests := map[string]string{
		"set":           "set",
		"rm;-rf":        "rm_-rf",
		"\x1b[31mred":   "__31mred",
		"under_score-1": "under_score-1",
		"emoji-\u2b50":  "emoji-_",
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations_Ordered(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "sql")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least two migrations, got %d", len(entries))
	}

	want := []string{"00001_accounts.sql", "00002_sessions.sql"}
	for i, name := range want {
		if entries[i].Name() != name {
			t.Fatalf("migration %d: got %s want %s", i, entries[i].Name(), name)
		}
	}
}

func TestEmbeddedMigrations_HaveGooseMarkers(t *testing.T) {
	entries, err := fs.ReadDir(Migrations, "sql")
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	for _, e := range entries {
		b, err := fs.ReadFile(Migrations, "sql/"+e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s: missing goose markers", e.Name())
		}
	}
}

func TestSessionsReferencesAccountsWithSetNull(t *testing.T) {
	b, err := fs.ReadFile(Migrations, "sql/00002_sessions.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "REFERENCES accounts(id) ON DELETE SET NULL") {
		t.Fatalf("sessions.account_id must be a non-owning reference")
	}
}

func TestUp_RejectsBadInput(t *testing.T) {
	if err := Up(t.Context(), nil, "latch"); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

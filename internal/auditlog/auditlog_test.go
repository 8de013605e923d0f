package auditlog

import (
	"path/filepath"
	"testing"
)

func TestRecordAndForPersona(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	hex := "deadbeef"
	if err := l.Record(EventPersonaCreated, hex, "", "name=alice"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(EventKexGenerated, hex, "cafef00d", "kind=ec"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := l.ForPersona(hex)
	if err != nil {
		t.Fatalf("ForPersona: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Event != EventPersonaCreated || rows[1].Event != EventKexGenerated {
		t.Fatalf("unexpected event ordering: %+v", rows)
	}
}

func TestForPersona_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	rows, err := l.ForPersona("nosuchpersona")
	if err != nil {
		t.Fatalf("ForPersona: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestReopenPersistsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	l1, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Record(EventPersonaDeleted, "abc123", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := l1.Close(); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	rows, err := l2.ForPersona("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after reopen, got %d", len(rows))
	}
}

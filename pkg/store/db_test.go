package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/filmil/lspbridge/pkg/text"
)

var (
	dbMu      sync.Mutex
	dbCounter int
)

// DBName returns a fresh in-memory database name for each test.
func DBName() string {
	dbMu.Lock()
	defer dbMu.Unlock()
	dbCounter++
	return fmt.Sprintf("file:test_%d.db%s", dbCounter, Pragmas)
}

func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	name := DBName()
	if _, err := CreateDBFile(name); err != nil {
		t.Fatalf("could not create: %v: %v", name, err)
	}
	db, err := sql.Open(SqliteDriver, name)
	if err != nil {
		t.Fatalf("could not open: %v: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })
	if err := CreateSchema(db); err != nil {
		t.Fatalf("could not create schema: %v", err)
	}
	return db
}

func Must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSchemaTwice(t *testing.T) {
	t.Parallel()
	db := NewDB(t)
	Must(t, CreateSchema(db))
}

func TestSaveBuffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB(t)

	Must(t, SaveBuffer(ctx, db, 1, Buffer{ID: 2, Path: "/src/b.rs", BaseText: "b"}))
	Must(t, SaveBuffer(ctx, db, 1, Buffer{ID: 1, Path: "/src/a.rs", BaseText: "a"}))
	Must(t, SaveBuffer(ctx, db, 2, Buffer{ID: 1, Path: "/other/a.rs", BaseText: "other"}))
	// Replaces the first save.
	Must(t, SaveBuffer(ctx, db, 1, Buffer{ID: 2, Path: "/src/c.rs", BaseText: "c"}))

	tests := []struct {
		project  uint64
		expected []Buffer
	}{
		{1, []Buffer{
			{ID: 1, Path: "/src/a.rs", BaseText: "a"},
			{ID: 2, Path: "/src/c.rs", BaseText: "c"},
		}},
		{2, []Buffer{
			{ID: 1, Path: "/other/a.rs", BaseText: "other"},
		}},
		{3, []Buffer{}},
	}
	for _, test := range tests {
		actual, err := GetBuffers(ctx, db, test.project)
		Must(t, err)
		if diff := cmp.Diff(test.expected, actual); diff != "" {
			t.Errorf("project %v: diff (-want +got):\n%v", test.project, diff)
		}
	}
}

func TestJournalRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB(t)
	j := NewJournal(db, 7)

	b := text.NewBuffer(3, 0, "fn main() {}\n")
	Must(t, j.SaveBuffer(ctx, b.ID(), "/src/main.rs", b.BaseText()))
	ops := b.Edit(text.PointUTF16{Row: 0, Column: 3}, text.PointUTF16{Row: 0, Column: 7}, "start")
	Must(t, j.AppendOperations(ctx, b.ID(), ops))
	ops = b.Edit(text.PointUTF16{Row: 1, Column: 0}, text.PointUTF16{Row: 1, Column: 0}, "// end\n")
	Must(t, j.AppendOperations(ctx, b.ID(), ops))
	// Storing the same operations twice is a no-op.
	Must(t, j.AppendOperations(ctx, b.ID(), b.Operations()))
	Must(t, j.AppendOperations(ctx, b.ID(), nil))

	restored, err := j.Restore(ctx)
	Must(t, err)
	if len(restored) != 1 {
		t.Fatalf("want 1 buffer, got: %+v", restored)
	}
	r := restored[0]
	if r.ID != 3 || r.Path != "/src/main.rs" {
		t.Errorf("unexpected buffer: %+v", r.Buffer)
	}
	if len(r.Operations) != len(b.Operations()) {
		t.Errorf("want %d operations, got: %v", len(b.Operations()), r.Operations)
	}

	rb := text.NewBuffer(r.ID, 1, r.BaseText)
	Must(t, rb.ApplyOps(r.Operations...))
	if got, want := rb.Text(), b.Text(); got != want {
		t.Errorf("want: %q, got: %q", want, got)
	}

	// Anchors created before the restore resolve against the restored buffer.
	a := b.Snapshot().AnchorAfter(text.PointUTF16{Row: 0, Column: 5})
	p, err := rb.Snapshot().ResolveAnchor(a)
	Must(t, err)
	if want := (text.PointUTF16{Row: 0, Column: 5}); p != want {
		t.Errorf("want: %v, got: %v", want, p)
	}
}

func TestDeleteBuffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB(t)
	j := NewJournal(db, 1)

	b := text.NewBuffer(1, 0, "abc")
	Must(t, j.SaveBuffer(ctx, 1, "/src/a.rs", "abc"))
	Must(t, j.AppendOperations(ctx, 1, b.Edit(text.PointUTF16{}, text.PointUTF16{}, "x")))
	Must(t, j.SaveBuffer(ctx, 2, "/src/b.rs", ""))

	Must(t, j.DeleteBuffer(ctx, 1))
	// Deleting again is fine.
	Must(t, j.DeleteBuffer(ctx, 1))

	bufs, err := GetBuffers(ctx, db, 1)
	Must(t, err)
	if diff := cmp.Diff([]Buffer{{ID: 2, Path: "/src/b.rs"}}, bufs); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}
	ops, err := GetOperations(ctx, db, 1, 1)
	Must(t, err)
	if len(ops) != 0 {
		t.Errorf("want no operations, got: %v", ops)
	}
}

func TestGetOperationsCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := NewDB(t)
	if _, err := db.Exec(`
		INSERT INTO Operations(ProjectId, BufferId, Replica, Lamport, Payload)
		VALUES (1, 1, 0, 1, ?);`, []byte{0xff}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := GetOperations(ctx, db, 1, 1); err == nil {
		t.Errorf("want error for a corrupt payload")
	}
}

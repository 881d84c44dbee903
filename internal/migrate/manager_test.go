package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManagerDerivesSeedDir(t *testing.T) {
	mgr := NewManager(nil, filepath.Join("ops", "schema"))
	if mgr.seedsDir != filepath.Join("ops", "schema", "seeds") {
		t.Fatalf("unexpected seeds dir %q", mgr.seedsDir)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `
create table users (id text primary key);
insert into users (id) values ('a;b');
create index idx on users (id);`

	stmts := splitStatements(sql)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'a;b'") {
		t.Fatalf("semicolon inside string literal must not split: %q", stmts[1])
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements("create table t (id text)")
	if len(stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(stmts))
	}
}

func TestSQLFilesOrderingAndFiltering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	names, err := sqlFiles(dir, ".up.sql")
	if err != nil {
		t.Fatalf("sqlFiles: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 up files, got %v", names)
	}
	if names[0] != "0001_a.up.sql" || names[1] != "0002_b.up.sql" {
		t.Fatalf("expected lexicographic order, got %v", names)
	}
}

func TestSQLFilesMissingDir(t *testing.T) {
	names, err := sqlFiles(filepath.Join(t.TempDir(), "nope"), ".sql")
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if names != nil {
		t.Fatalf("expected no files, got %v", names)
	}
}

package store

import "testing"

func TestSplitDSN(t *testing.T) {
	cases := []struct {
		dsn    string
		driver string
		source string
	}{
		{"sqlite:/var/lib/frontdesk/audit.db", "sqlite", "/var/lib/frontdesk/audit.db"},
		{"/tmp/callbacks.db", "sqlite", "/tmp/callbacks.db"},
		{"postgres://fd:pw@db/frontdesk", "pgx", "postgres://fd:pw@db/frontdesk"},
		{"mysql:fd:pw@tcp(db:3306)/frontdesk", "mysql", "fd:pw@tcp(db:3306)/frontdesk"},
	}
	for _, c := range cases {
		driver, source, err := splitDSN(c.dsn)
		if err != nil {
			t.Fatalf("splitDSN(%q): %v", c.dsn, err)
		}
		if driver != c.driver || source != c.source {
			t.Errorf("splitDSN(%q) = (%q, %q), want (%q, %q)", c.dsn, driver, source, c.driver, c.source)
		}
	}

	if _, _, err := splitDSN(""); err == nil {
		t.Error("empty dsn accepted")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: "pgx"}
	got := pg.Rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	want := "INSERT INTO t (a, b) VALUES ($1, $2)"
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}

	lite := &DB{Driver: "sqlite"}
	q := "SELECT * FROM t WHERE a = ?"
	if lite.Rebind(q) != q {
		t.Error("sqlite query should pass through unchanged")
	}
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open("sqlite:" + t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE t (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

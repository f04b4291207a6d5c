package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestDriverURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/petshop?sslmode=disable": "pgx5://u:p@localhost:5432/petshop?sslmode=disable",
		"postgresql://localhost/petshop":                         "pgx5://localhost/petshop",
		"pgx5://localhost/petshop":                               "pgx5://localhost/petshop",
	}
	for in, want := range cases {
		if got := driverURL(in); got != want {
			t.Fatalf("driverURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(Migrations(), "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", f)
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no down file", name)
		}
	}
}

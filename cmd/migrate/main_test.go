package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/backorders/internal/storage/postgres"
)

func env(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-direction=DOWN", "-steps=2"}, env(map[string]string{dsnEnv: " postgres://x "}))
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://x" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts, err = parseOptions([]string{"-dsn=postgres://flag"}, env(map[string]string{dsnEnv: "postgres://env"}))
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "up" || opts.dryRun {
		t.Fatalf("flag must win over env: %+v", opts)
	}

	opts, err = parseOptions([]string{"-dry-run", "-dsn=postgres://x"}, env(nil))
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if !opts.dryRun {
		t.Fatalf("expected dry-run, got %+v", opts)
	}
}

func TestPrintPlan(t *testing.T) {
	var out bytes.Buffer
	printPlan(&out, "up", []postgres.MigrationStep{
		{Version: 3, Name: "audit_outbox", Up: true},
		{Version: 4, Name: "record_journal", Up: true},
	})

	want := "migrate up dry-run: 2 step(s)\n  up 0003_audit_outbox\n  up 0004_record_journal\n"
	if out.String() != want {
		t.Fatalf("unexpected plan output:\n%s", out.String())
	}
}

func TestParseOptionsErrors(t *testing.T) {
	cases := map[string][]string{
		"missing dsn":    {"-direction=status"},
		"bad direction":  {"-direction=sideways", "-dsn=postgres://x"},
		"unknown flag":   {"-force"},
		"status dry-run": {"-direction=status", "-dry-run", "-dsn=postgres://x"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseOptions(args, env(nil)); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestRunStatusUpDown(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BACKORDERS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, direction := range []string{"status", "up", "down", "up"} {
		var out bytes.Buffer
		if err := run(ctx, options{direction: direction, steps: 1, dsn: dsn}, &out); err != nil {
			t.Skipf("postgres is not available: %v", err)
		}
		if !strings.HasPrefix(out.String(), "migrate "+direction+" ok") {
			t.Fatalf("unexpected output %q", out.String())
		}
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildRootSurface(t *testing.T) {
	root := buildRoot()
	if root.Use != "stackd" {
		t.Fatalf("use=%q", root.Use)
	}
	for _, name := range []string{"config", "no-ui", "no-observability", "status", "stop", "verbose"} {
		if root.Flags().Lookup(name) == nil {
			t.Fatalf("root missing --%s", name)
		}
	}
	var sawStatus, sawStop bool
	for _, sub := range root.Commands() {
		switch sub.Name() {
		case "status":
			sawStatus = true
			if sub.Flags().Lookup("json") == nil {
				t.Fatalf("status missing --json")
			}
		case "stop":
			sawStop = true
		}
	}
	if !sawStatus || !sawStop {
		t.Fatalf("subcommands: status=%v stop=%v", sawStatus, sawStop)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stackd.toml")
	if err := os.WriteFile(path, []byte("units_dir = \"svc\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UnitsDir != "svc" {
		t.Fatalf("units_dir=%q", cfg.UnitsDir)
	}
}

func TestLoadConfigDefaultsToCwd(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if cfg.UnitsDir != filepath.Join(wd, "units") {
		t.Fatalf("units_dir=%q", cfg.UnitsDir)
	}
}

func TestExitErrorMessage(t *testing.T) {
	e := &exitError{code: 2, msg: "boom"}
	if e.Error() != "boom" {
		t.Fatalf("msg=%q", e.Error())
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
snapshots:
  proposed_dir: ./proposed
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Store.MaxVersions != 10 {
		t.Errorf("store.max_versions = %d, want 10", cfg.Store.MaxVersions)
	}
	if cfg.Analysis.Concurrency != 4 {
		t.Errorf("analysis.concurrency = %d, want 4", cfg.Analysis.Concurrency)
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Errorf("watch.debounce_ms = %d, want 500", cfg.Watch.DebounceMs)
	}
	if cfg.Snapshots.ProposedDir != "./proposed" {
		t.Errorf("snapshots.proposed_dir = %q", cfg.Snapshots.ProposedDir)
	}
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
logging:
  level: debug
  format: json
store:
  dir: /var/lib/contractcheck
  max_versions: 3
analysis:
  concurrency: 8
  baseline: param-service,reports-service
snapshots:
  current_dir: ./current
  proposed_dir: ./proposed
  edges_file: ./edges.json
openapi:
  specs:
    - service: param-service
      file: ./specs/param.yaml
watch:
  enabled: true
  debounce_ms: 250
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Store.Dir != "/var/lib/contractcheck" || cfg.Store.MaxVersions != 3 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Analysis.Baseline != "param-service,reports-service" {
		t.Errorf("analysis.baseline = %q", cfg.Analysis.Baseline)
	}
	if len(cfg.OpenAPI.Specs) != 1 || cfg.OpenAPI.Specs[0].Service != "param-service" {
		t.Errorf("openapi.specs = %+v", cfg.OpenAPI.Specs)
	}
	if !cfg.Watch.Enabled || cfg.Watch.DebounceMs != 250 {
		t.Errorf("watch = %+v", cfg.Watch)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("CONTRACTCHECK_TEST_DIR", "/tmp/proposed")
	cfg, err := NewLoader().Parse([]byte(`
snapshots:
  proposed_dir: ${CONTRACTCHECK_TEST_DIR}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Snapshots.ProposedDir != "/tmp/proposed" {
		t.Errorf("proposed_dir = %q, want /tmp/proposed", cfg.Snapshots.ProposedDir)
	}
}

func TestParseLeavesUnsetEnvVarsIntact(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
snapshots:
  proposed_dir: ${CONTRACTCHECK_UNSET_VAR_XYZ}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Snapshots.ProposedDir != "${CONTRACTCHECK_UNSET_VAR_XYZ}" {
		t.Errorf("proposed_dir = %q, want the unexpanded reference", cfg.Snapshots.ProposedDir)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "snapshots: ["},
		{"bad level", "logging:\n  level: loud\nsnapshots:\n  proposed_dir: ./p"},
		{"bad format", "logging:\n  format: xml\nsnapshots:\n  proposed_dir: ./p"},
		{"negative concurrency", "analysis:\n  concurrency: -1\nsnapshots:\n  proposed_dir: ./p"},
		{"nothing to analyze", "logging:\n  level: info"},
		{"spec without service", "openapi:\n  specs:\n    - file: ./spec.yaml"},
		{"spec without file", "openapi:\n  specs:\n    - service: a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewLoader().Parse([]byte(tc.doc)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contractcheck.yaml")
	if err := os.WriteFile(path, []byte("snapshots:\n  proposed_dir: ./proposed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Snapshots.ProposedDir != "./proposed" {
		t.Errorf("proposed_dir = %q", cfg.Snapshots.ProposedDir)
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

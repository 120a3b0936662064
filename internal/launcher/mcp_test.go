package launcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestMergeMCPConfigNeitherSource(t *testing.T) {
	got, err := MergeMCPConfig("", t.TempDir())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}

func TestMergeMCPConfigGlobalOnly(t *testing.T) {
	global := filepath.Join(t.TempDir(), "mcp.json")
	writeFile(t, global, `{"mcpServers":{"jira":{"command":"jira-mcp"}}}`)

	got, err := MergeMCPConfig(global, t.TempDir())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got != global {
		t.Fatalf("expected global path passthrough, got %q", got)
	}
}

func TestMergeMCPConfigProjectOnly(t *testing.T) {
	cwd := t.TempDir()
	project := filepath.Join(cwd, ".mcp.json")
	writeFile(t, project, `{"mcpServers":{"db":{"command":"db-mcp"}}}`)

	got, err := MergeMCPConfig("", cwd)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got != project {
		t.Fatalf("expected project path passthrough, got %q", got)
	}
}

func TestMergeMCPConfigProjectOverridesGlobal(t *testing.T) {
	global := filepath.Join(t.TempDir(), "mcp.json")
	writeFile(t, global, `{"mcpServers":{"jira":{"command":"jira-mcp"},"db":{"command":"global-db"}}}`)
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".mcp.json"), `{"mcpServers":{"db":{"command":"project-db"}}}`)

	got, err := MergeMCPConfig(global, cwd)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got == "" || got == global {
		t.Fatalf("expected merged temp file, got %q", got)
	}
	t.Cleanup(func() { _ = os.Remove(got) })

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read merged config: %v", err)
	}
	var doc struct {
		MCPServers map[string]struct {
			Command string `json:"command"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode merged config: %v", err)
	}
	if len(doc.MCPServers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(doc.MCPServers))
	}
	if doc.MCPServers["db"].Command != "project-db" {
		t.Fatalf("project did not win collision: %q", doc.MCPServers["db"].Command)
	}
	if doc.MCPServers["jira"].Command != "jira-mcp" {
		t.Fatal("global-only server lost in merge")
	}
}

func TestMergeMCPConfigBadJSONErrors(t *testing.T) {
	global := filepath.Join(t.TempDir(), "mcp.json")
	writeFile(t, global, `{not json`)
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".mcp.json"), `{"mcpServers":{}}`)

	if _, err := MergeMCPConfig(global, cwd); err == nil {
		t.Fatal("expected error for malformed global config")
	}
}

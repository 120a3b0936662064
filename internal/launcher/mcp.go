package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MergeMCPConfig merges the global MCP config with {cwd}/.mcp.json and writes
// the result to a temp file, returning its path. The project config wins on
// server-name collision. When only one source exists its path is returned
// directly; when neither exists the result is empty.
func MergeMCPConfig(globalPath, cwd string) (string, error) {
	projectPath := ""
	if cwd != "" {
		candidate := filepath.Join(cwd, ".mcp.json")
		if _, err := os.Stat(candidate); err == nil {
			projectPath = candidate
		}
	}
	haveGlobal := false
	if globalPath != "" {
		if _, err := os.Stat(globalPath); err == nil {
			haveGlobal = true
		}
	}

	switch {
	case !haveGlobal && projectPath == "":
		return "", nil
	case !haveGlobal:
		return projectPath, nil
	case projectPath == "":
		return globalPath, nil
	}

	merged, err := readMCPServers(globalPath)
	if err != nil {
		return "", fmt.Errorf("reading global MCP config: %w", err)
	}
	project, err := readMCPServers(projectPath)
	if err != nil {
		return "", fmt.Errorf("reading project MCP config: %w", err)
	}
	for name, cfg := range project {
		merged[name] = cfg
	}

	data, err := json.MarshalIndent(map[string]any{"mcpServers": merged}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding merged MCP config: %w", err)
	}

	f, err := os.CreateTemp("", "clauderelay-mcp-*.json")
	if err != nil {
		return "", fmt.Errorf("creating merged MCP config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing merged MCP config: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing merged MCP config: %w", err)
	}
	return f.Name(), nil
}

func readMCPServers(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	servers, _ := doc["mcpServers"].(map[string]any)
	if servers == nil {
		servers = make(map[string]any)
	}
	return servers, nil
}

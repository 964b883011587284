package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const machineIDPath = "/etc/machine-id"

// AgentID resolves the agent's stable identity: the configured override if
// set, otherwise the hostname joined with the first 8 hex chars of the
// machine id. Hosts without a machine id fall back to a hostname hash so
// the id stays stable across restarts.
func AgentID(override, hostname string) string {
	return agentID(override, hostname, machineIDPath)
}

func agentID(override, hostname, idPath string) string {
	if override != "" {
		return override
	}
	if raw, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(raw))
		if len(id) >= 8 {
			return hostname + "-" + id[:8]
		}
	}
	sum := sha256.Sum256([]byte(hostname))
	return hostname + "-" + hex.EncodeToString(sum[:4])
}

// Hostname resolves the reported hostname, preferring the configured
// override.
func Hostname(override string) string {
	if override != "" {
		return override
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

package collect

import "github.com/infra-mapper/infra-mapper/internal/report"

// flowKey identifies a connection regardless of how it was observed.
type flowKey struct {
	localIP    string
	localPort  int
	remoteIP   string
	remotePort int
	protocol   string
}

// MergeConnections deduplicates the /proc/net scan and the tcpdump capture
// on the five-tuple. The /proc/net entry wins a collision since it carries
// the authoritative container attribution.
func MergeConnections(procNet, captured []report.Connection) []report.Connection {
	seen := make(map[flowKey]bool, len(procNet)+len(captured))
	merged := make([]report.Connection, 0, len(procNet)+len(captured))

	for _, c := range procNet {
		k := keyOf(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, c)
	}
	for _, c := range captured {
		k := keyOf(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, c)
	}
	return merged
}

func keyOf(c report.Connection) flowKey {
	return flowKey{
		localIP:    c.LocalIP,
		localPort:  c.LocalPort,
		remoteIP:   c.RemoteIP,
		remotePort: c.RemotePort,
		protocol:   c.Protocol,
	}
}

package collect

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/prometheus/procfs"

	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// Cgroup paths that tie a PID to the container it runs in.
var cgroupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/docker/([a-f0-9]{12,64})`),
	regexp.MustCompile(`docker-([a-f0-9]{12,64})\.scope`),
	regexp.MustCompile(`/containerd/([a-f0-9]{12,64})`),
}

// tcpStates maps kernel socket states from /proc/net/tcp to their names.
var tcpStates = map[uint64]string{
	1:  "ESTAB",
	2:  "SYN-SENT",
	3:  "SYN-RECV",
	4:  "FIN-WAIT-1",
	5:  "FIN-WAIT-2",
	6:  "TIME-WAIT",
	7:  "CLOSE",
	8:  "CLOSE-WAIT",
	9:  "LAST-ACK",
	10: "LISTEN",
	11: "CLOSING",
}

// ProcNet discovers active TCP and UDP sockets by reading /proc/net inside
// each container's network namespace, plus the host namespace via PID 1.
// Reading per-namespace proc files attributes each socket to its container
// without needing ss or netstat in the container image.
type ProcNet struct {
	procRoot string
	log      *logging.Logger
}

// NewProcNet creates a ProcNet collector reading from /proc.
func NewProcNet(log *logging.Logger) *ProcNet {
	return &ProcNet{procRoot: "/proc", log: log.Component("procnet")}
}

// nsTarget is one network namespace worth scanning.
type nsTarget struct {
	pid         int
	containerID string
}

// Connections scans every distinct container network namespace and the host
// namespace, returning all parseable sockets tagged with SourceProcNet.
func (p *ProcNet) Connections() []report.Connection {
	var conns []report.Connection

	targets := p.namespaceTargets()
	for _, t := range targets {
		conns = append(conns, p.readNamespace(t.pid, t.containerID)...)
	}

	host := p.readNamespace(1, "")
	conns = append(conns, host...)

	p.log.Debug("connection scan complete",
		"total", len(conns), "namespaces", len(targets), "host", len(host))
	return conns
}

// ContainerPIDs returns the PID-to-short-container-id mapping built from
// /proc/*/cgroup.
func (p *ProcNet) ContainerPIDs() map[int]string {
	out := make(map[int]string)

	fs, err := procfs.NewFS(p.procRoot)
	if err != nil {
		p.log.Error("failed to open proc", "path", p.procRoot, "error", err)
		return out
	}
	procs, err := fs.AllProcs()
	if err != nil {
		p.log.Error("failed to list processes", "error", err)
		return out
	}

	for _, proc := range procs {
		cgroups, err := proc.Cgroups()
		if err != nil {
			continue
		}
		for _, cg := range cgroups {
			if id, ok := containerIDFromCgroup(cg.Path); ok {
				out[proc.PID] = id
				break
			}
		}
	}
	return out
}

// namespaceTargets picks one representative PID per container network
// namespace. Containers sharing a namespace (network_mode: container) are
// scanned once under the first PID seen.
func (p *ProcNet) namespaceTargets() []nsTarget {
	fs, err := procfs.NewFS(p.procRoot)
	if err != nil {
		p.log.Error("failed to open proc", "path", p.procRoot, "error", err)
		return nil
	}
	procs, err := fs.AllProcs()
	if err != nil {
		p.log.Error("failed to list processes", "error", err)
		return nil
	}

	seen := make(map[uint32]bool)
	var targets []nsTarget
	for _, proc := range procs {
		cgroups, err := proc.Cgroups()
		if err != nil {
			continue
		}
		containerID := ""
		for _, cg := range cgroups {
			if id, ok := containerIDFromCgroup(cg.Path); ok {
				containerID = id
				break
			}
		}
		if containerID == "" {
			continue
		}

		namespaces, err := proc.Namespaces()
		if err != nil {
			continue
		}
		netns, ok := namespaces["net"]
		if !ok || seen[netns.Inode] {
			continue
		}
		seen[netns.Inode] = true
		targets = append(targets, nsTarget{pid: proc.PID, containerID: containerID})
	}
	return targets
}

// readNamespace parses /proc/<pid>/net/{tcp,udp} and tags each socket with
// the owning container id ("" for the host namespace).
func (p *ProcNet) readNamespace(pid int, containerID string) []report.Connection {
	fs, err := procfs.NewFS(filepath.Join(p.procRoot, strconv.Itoa(pid)))
	if err != nil {
		return nil
	}

	var conns []report.Connection
	if tcp, err := fs.NetTCP(); err == nil {
		for _, line := range tcp {
			if c, ok := socketToConnection(line, "tcp", containerID); ok {
				conns = append(conns, c)
			}
		}
	}
	if udp, err := fs.NetUDP(); err == nil {
		for _, line := range udp {
			if c, ok := socketToConnection(line, "udp", containerID); ok {
				conns = append(conns, c)
			}
		}
	}
	return conns
}

func socketToConnection(line *procfs.NetIPSocketLine, protocol, containerID string) (report.Connection, bool) {
	localIP := line.LocalAddr.String()
	remoteIP := line.RemAddr.String()

	// 127.0.0.11 is the embedded Docker DNS; loopback chatter carries no
	// topology signal.
	if hasLoopbackPrefix(localIP) && hasLoopbackPrefix(remoteIP) {
		return report.Connection{}, false
	}

	state := "UNCONN"
	if protocol == "tcp" {
		var ok bool
		if state, ok = tcpStates[line.St]; !ok {
			state = fmt.Sprintf("%02X", line.St)
		}
	}

	return report.Connection{
		Protocol:     protocol,
		LocalIP:      localIP,
		LocalPort:    int(line.LocalPort),
		RemoteIP:     remoteIP,
		RemotePort:   int(line.RemPort),
		State:        state,
		ContainerID:  containerID,
		SourceMethod: report.SourceProcNet,
	}, true
}

func containerIDFromCgroup(path string) (string, bool) {
	for _, re := range cgroupPatterns {
		if m := re.FindStringSubmatch(path); m != nil {
			return report.ShortContainerID(m[1]), true
		}
	}
	return "", false
}

func hasLoopbackPrefix(ip string) bool {
	return len(ip) >= 4 && ip[:4] == "127."
}

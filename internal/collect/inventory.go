// Package collect implements the agent-side collectors: Docker container
// and network inventory, live connection discovery from /proc/net and
// tcpdump captures, host and container resource metrics, container logs,
// and Tailscale membership.
package collect

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// Env var names containing these fragments have their values redacted
// before leaving the host.
var secretFragments = []string{"PASSWORD", "SECRET", "KEY", "TOKEN"}

// Redacted replaces secret-looking environment values on the wire.
const Redacted = "***HIDDEN***"

// DependencyInferrer resolves declared service dependencies for a container.
// Implemented by deps.Inferrer.
type DependencyInferrer interface {
	Infer(ctx context.Context, c *report.ContainerInfo) []string
}

// Inventory collects the container and network inventory from the local
// Docker daemon.
type Inventory struct {
	docker docker.API
	deps   DependencyInferrer
	log    *logging.Logger
}

// NewInventory creates an Inventory collector. deps may be nil to skip
// dependency inference.
func NewInventory(d docker.API, deps DependencyInferrer, log *logging.Logger) *Inventory {
	return &Inventory{docker: d, deps: deps, log: log.Component("inventory")}
}

// DockerVersion returns the daemon's server version, or "" when the daemon
// cannot be reached.
func (inv *Inventory) DockerVersion(ctx context.Context) string {
	info, err := inv.docker.ServerInfo(ctx)
	if err != nil {
		inv.log.Error("failed to query docker version", "error", err)
		return ""
	}
	return info.ServerVersion
}

// OSInfo returns a short operating system description from the daemon.
func (inv *Inventory) OSInfo(ctx context.Context) string {
	info, err := inv.docker.ServerInfo(ctx)
	if err != nil {
		return ""
	}
	if info.KernelVersion != "" {
		return info.OperatingSystem + " (" + info.KernelVersion + ")"
	}
	return info.OperatingSystem
}

// Containers lists all containers (running or not) and assembles a full
// inventory record for each. Containers that fail inspection are skipped.
func (inv *Inventory) Containers(ctx context.Context) []report.ContainerInfo {
	summaries, err := inv.docker.ListAllContainers(ctx)
	if err != nil {
		inv.log.Error("failed to list containers", "error", err)
		return nil
	}

	out := make([]report.ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		info, err := inv.parseContainer(ctx, s)
		if err != nil {
			inv.log.Warn("skipping container", "id", report.ShortContainerID(s.ID), "error", err)
			continue
		}
		out = append(out, info)
	}
	return out
}

func (inv *Inventory) parseContainer(ctx context.Context, s container.Summary) (report.ContainerInfo, error) {
	inspect, err := inv.docker.InspectContainer(ctx, s.ID)
	if err != nil {
		return report.ContainerInfo{}, err
	}

	info := report.ContainerInfo{
		ID:                   report.ShortContainerID(inspect.ID),
		Name:                 strings.TrimPrefix(inspect.Name, "/"),
		Image:                "unknown",
		Status:               report.StatusUnknown,
		Health:               report.HealthNone,
		Networks:             []string{},
		IPAddresses:          map[string]string{},
		Ports:                []report.PortMapping{},
		Volumes:              []report.VolumeMount{},
		Labels:               map[string]string{},
		Environment:          map[string]string{},
		DeclaredDependencies: []string{},
	}

	if inspect.Config != nil {
		if inspect.Config.Image != "" {
			info.Image = inspect.Config.Image
		}
		if inspect.Config.Labels != nil {
			info.Labels = inspect.Config.Labels
		}
		info.Environment = redactEnvironment(inspect.Config.Env)
	}

	if inspect.State != nil {
		info.Status = report.NormalizeStatus(string(inspect.State.Status))
		if inspect.State.Health != nil {
			info.Health = report.NormalizeHealth(string(inspect.State.Health.Status))
		}
		if t, ok := parseDockerTime(inspect.State.StartedAt); ok {
			info.StartedAt = &t
		}
	}

	if t, ok := parseDockerTime(inspect.Created); ok {
		info.Created = &t
	}

	if ns := inspect.NetworkSettings; ns != nil {
		names := make([]string, 0, len(ns.Networks))
		for name, ep := range ns.Networks {
			names = append(names, name)
			if ep != nil && ep.IPAddress.IsValid() {
				info.IPAddresses[name] = ep.IPAddress.String()
			}
		}
		sort.Strings(names)
		info.Networks = names
		// network.Port stringifies to the same "80/tcp" form the engine
		// used for string keys, which parsePorts is generic over.
		ports := make(map[string][]network.PortBinding, len(ns.Ports))
		for port, bindings := range ns.Ports {
			ports[port.String()] = bindings
		}
		info.Ports = parsePorts(ports)
	}

	for _, m := range inspect.Mounts {
		mode := m.Mode
		if mode == "" {
			mode = "rw"
		}
		info.Volumes = append(info.Volumes, report.VolumeMount{
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        mode,
			RW:          m.RW,
		})
	}

	info.ComposeProject = info.Labels["com.docker.compose.project"]
	info.ComposeService = info.Labels["com.docker.compose.service"]

	if inv.deps != nil && info.ComposeProject != "" && info.ComposeService != "" {
		info.DeclaredDependencies = inv.deps.Infer(ctx, &info)
	}

	return info, nil
}

// Networks lists the daemon's networks with their IPAM config and the
// short ids of attached containers.
func (inv *Inventory) Networks(ctx context.Context) []report.NetworkInfo {
	nets, err := inv.docker.ListNetworks(ctx)
	if err != nil {
		inv.log.Error("failed to list networks", "error", err)
		return nil
	}

	out := make([]report.NetworkInfo, 0, len(nets))
	for _, n := range nets {
		info := report.NetworkInfo{
			ID:         report.ShortContainerID(n.ID),
			Name:       n.Name,
			Driver:     n.Driver,
			Scope:      n.Scope,
			Containers: []string{},
		}
		if info.Driver == "" {
			info.Driver = "unknown"
		}
		if info.Scope == "" {
			info.Scope = "local"
		}
		if len(n.IPAM.Config) > 0 {
			if subnet := n.IPAM.Config[0].Subnet; subnet.IsValid() {
				info.Subnet = subnet.String()
			}
			if gateway := n.IPAM.Config[0].Gateway; gateway.IsValid() {
				info.Gateway = gateway.String()
			}
		}
		for id := range n.Containers {
			info.Containers = append(info.Containers, report.ShortContainerID(id))
		}
		sort.Strings(info.Containers)
		out = append(out, info)
	}
	return out
}

// redactEnvironment splits KEY=VALUE pairs and hides secret-looking values.
func redactEnvironment(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		for _, frag := range secretFragments {
			if strings.Contains(upper, frag) {
				value = Redacted
				break
			}
		}
		out[key] = value
	}
	return out
}

// parsePorts flattens the engine's port map into the wire form. Exposed but
// unmapped ports are kept with a zero host port.
func parsePorts[K ~string](ports map[K][]network.PortBinding) []report.PortMapping {
	out := make([]report.PortMapping, 0, len(ports))
	for portProto, bindings := range ports {
		portStr, proto, ok := strings.Cut(string(portProto), "/")
		if !ok {
			proto = "tcp"
		}
		cPort, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}

		if len(bindings) == 0 {
			out = append(out, report.PortMapping{ContainerPort: cPort, Protocol: proto})
			continue
		}
		for _, b := range bindings {
			hostPort, _ := strconv.Atoi(b.HostPort)
			hostIP := "0.0.0.0"
			if b.HostIP.IsValid() {
				hostIP = b.HostIP.String()
			}
			out = append(out, report.PortMapping{
				HostIP:        hostIP,
				HostPort:      hostPort,
				ContainerPort: cPort,
				Protocol:      proto,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContainerPort != out[j].ContainerPort {
			return out[i].ContainerPort < out[j].ContainerPort
		}
		return out[i].HostPort < out[j].HostPort
	})
	return out
}

// parseDockerTime parses the engine's RFC3339Nano timestamps, rejecting
// the zero sentinel the engine uses for never-started containers.
func parseDockerTime(s string) (time.Time, bool) {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

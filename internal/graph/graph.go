// Package graph materializes the rendered infrastructure topology from
// persisted hosts, containers, and observed connections. Building a graph
// never mutates the store; it is a pure read of the latest reported state.
package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// Hosts silent for this long are excluded unless offline nodes are requested.
const offlineCutoff = 5 * time.Minute

// maxExternalNodes caps external:<ip> vertices per build so noisy outbound
// traffic cannot star the graph.
const maxExternalNodes = 20

// Node is one vertex of the rendered topology.
type Node struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data"`
}

// Edge links two nodes by their string IDs.
type Edge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Label  string         `json:"label,omitempty"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
}

// Data is one complete rendered graph.
type Data struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	LastUpdated time.Time `json:"last_updated"`
}

// Filter narrows what a build renders. Zero value renders every running
// container on every online host.
type Filter struct {
	IncludeOffline bool
	HostPattern    string
	ProjectPattern string
	OrganizationID string
	TeamID         string
}

// Store is the read surface the materializer needs.
type Store interface {
	GraphHosts(ctx context.Context, q store.GraphHostQuery) ([]store.Host, error)
	GraphContainers(ctx context.Context, hostID string, runningOnly bool, projectPattern string) ([]store.Container, error)
	FindContainerByService(ctx context.Context, hostID, project, service string) (*store.Container, error)
	ListConnectionsBySourceHosts(ctx context.Context, hostIDs []string) ([]store.Connection, error)
	ListContainersByHost(ctx context.Context, hostID string) ([]store.Container, error)
}

// Service builds graphs and host summaries.
type Service struct {
	store Store
	clock clock.Clock
	log   *logging.Logger
}

// New wires a graph service to its store.
func New(st Store, clk clock.Clock, log *logging.Logger) *Service {
	return &Service{store: st, clock: clk, log: log.Component("graph")}
}

// hostIPKey indexes container IPs per host: Docker reuses private subnets,
// so 172.19.0.2 may exist on several hosts at once.
type hostIPKey struct {
	hostID string
	ip     string
}

// Build renders the topology under a filter.
func (s *Service) Build(ctx context.Context, f Filter) (*Data, error) {
	q := store.GraphHostQuery{
		HostnamePattern: f.HostPattern,
		OrganizationID:  f.OrganizationID,
		TeamID:          f.TeamID,
	}
	if !f.IncludeOffline {
		cutoff := s.clock.Now().UTC().Add(-offlineCutoff)
		q.OnlineSince = &cutoff
	}
	hosts, err := s.store.GraphHosts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}

	var (
		nodes     []Node
		edges     []Edge
		seenEdges = map[string]bool{}
	)

	// Host IPs (LAN plus overlay) resolve cross-host connection targets.
	hostByIP := map[string]*store.Host{}
	for i := range hosts {
		h := &hosts[i]
		for _, ip := range h.IPAddresses {
			hostByIP[ip] = h
		}
		if h.TailscaleIP != "" {
			hostByIP[h.TailscaleIP] = h
		}
	}

	containerByHostIP := map[hostIPKey]*store.Container{}
	containerByID := map[string]*store.Container{}
	containersByHost := map[string][]store.Container{}

	for i := range hosts {
		host := &hosts[i]
		containers, err := s.store.GraphContainers(ctx, host.ID, !f.IncludeOffline, f.ProjectPattern)
		if err != nil {
			return nil, fmt.Errorf("load containers of %s: %w", host.ID, err)
		}
		containersByHost[host.ID] = containers

		for j := range containers {
			c := &containers[j]
			for _, ip := range c.IPAddresses {
				if ip != "" {
					containerByHostIP[hostIPKey{host.ID, ip}] = c
				}
			}
			containerByID[c.ID] = c
			nodes = append(nodes, containerNode(c, host))

			depEdges, err := s.dependencyEdges(ctx, c, seenEdges)
			if err != nil {
				return nil, err
			}
			edges = append(edges, depEdges...)
		}
	}

	edges = append(edges, projectEdges(nodes, seenEdges)...)

	hostIDs := make([]string, 0, len(hosts))
	for i := range hosts {
		hostIDs = append(hostIDs, hosts[i].ID)
	}
	conns, err := s.store.ListConnectionsBySourceHosts(ctx, hostIDs)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	connEdges, externalNodes := resolveConnections(conns, containerByID, containerByHostIP, containersByHost, hostByIP)
	nodes = append(nodes, externalNodes...)
	edges = append(edges, connEdges...)

	s.log.Info("graph built", "nodes", len(nodes), "edges", len(edges))
	return &Data{
		Nodes:       nodes,
		Edges:       edges,
		LastUpdated: s.clock.Now().UTC(),
	}, nil
}

// containerNode renders one container vertex. The label stacks the name, the
// owning host, and any ports published on 0.0.0.0.
func containerNode(c *store.Container, host *store.Host) Node {
	labelParts := []string{c.Name, "VM: " + host.Hostname}

	var published []string
	for _, p := range c.Ports {
		if p.HostIP == "0.0.0.0" && p.HostPort > 0 {
			published = append(published, strconv.Itoa(p.HostPort))
		}
	}
	if len(published) > 0 {
		labelParts = append(labelParts, "Ports: "+strings.Join(published, ", "))
	}

	status := string(c.Status)
	if status == "" {
		status = "unknown"
	}
	health := string(c.Health)
	if health == "" {
		health = "none"
	}

	return Node{
		ID:    "container:" + c.ID,
		Label: strings.Join(labelParts, "\n"),
		Type:  "container",
		Data: map[string]any{
			"container_id":    c.ContainerID,
			"image":           c.Image,
			"status":          status,
			"health":          health,
			"ports":           c.Ports,
			"compose_project": c.ComposeProject,
			"compose_service": c.ComposeService,
			"networks":        c.Networks,
			"host_id":         host.ID,
			"hostname":        host.Hostname,
		},
	}
}

// dependencyEdges resolves a container's declared compose dependencies to
// sibling containers of the same project on the same host.
func (s *Service) dependencyEdges(ctx context.Context, c *store.Container, seen map[string]bool) ([]Edge, error) {
	if len(c.DeclaredDependencies) == 0 || c.ComposeProject == "" {
		return nil, nil
	}

	var edges []Edge
	for _, service := range c.DeclaredDependencies {
		dep, err := s.store.FindContainerByService(ctx, c.HostID, c.ComposeProject, service)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %s/%s: %w", c.ComposeProject, service, err)
		}
		if dep == nil {
			continue
		}
		edgeID := "dep:" + c.ID + ":" + dep.ID
		if seen[edgeID] {
			continue
		}
		seen[edgeID] = true
		edges = append(edges, Edge{
			ID:     edgeID,
			Source: "container:" + c.ID,
			Target: "container:" + dep.ID,
			Label:  "depends_on",
			Type:   "dependency",
			Data:   map[string]any{"declared": true},
		})
	}
	return edges, nil
}

// projectEdges links compose-project siblings on the same host as a star:
// the first container is the hub. This keeps the project visibly connected
// without quadratic clutter.
func projectEdges(nodes []Node, seen map[string]bool) []Edge {
	type hostProject struct {
		hostID  string
		project string
	}

	var order []hostProject
	members := map[hostProject][]string{}
	for _, n := range nodes {
		if n.Type != "container" {
			continue
		}
		project, _ := n.Data["compose_project"].(string)
		hostID, _ := n.Data["host_id"].(string)
		if project == "" || hostID == "" {
			continue
		}
		key := hostProject{hostID, project}
		if _, ok := members[key]; !ok {
			order = append(order, key)
		}
		members[key] = append(members[key], n.ID)
	}

	var edges []Edge
	for _, key := range order {
		ids := members[key]
		if len(ids) < 2 {
			continue
		}
		hub := ids[0]
		for _, other := range ids[1:] {
			edgeID := "project:" + hub + ":" + other
			reverseID := "project:" + other + ":" + hub
			if seen[edgeID] || seen[reverseID] {
				continue
			}
			seen[edgeID] = true
			edges = append(edges, Edge{
				ID:     edgeID,
				Source: hub,
				Target: other,
				Label:  key.project,
				Type:   "dependency",
				Data:   map[string]any{"project": key.project, "implicit": true},
			})
		}
	}
	return edges
}

// connEdgeAgg accumulates parallel flows between one node pair.
type connEdgeAgg struct {
	protocol string
	connType store.ConnectionType
	methods  map[string]bool
}

// resolveConnections turns persisted flows into edges. Targets resolve in
// order: container IP on the source host, then a container publishing the
// target port on a known host, then drop (known host, nothing published),
// then a capped external node.
func resolveConnections(
	conns []store.Connection,
	containerByID map[string]*store.Container,
	containerByHostIP map[hostIPKey]*store.Container,
	containersByHost map[string][]store.Container,
	hostByIP map[string]*store.Host,
) ([]Edge, []Node) {
	type nodePair struct {
		source string
		target string
	}

	var (
		order         []nodePair
		aggregates    = map[nodePair]*connEdgeAgg{}
		externalNodes []Node
		externalSeen  = map[string]bool{}
	)

	for i := range conns {
		conn := &conns[i]
		if conn.SourceContainerID == "" {
			continue
		}
		sourceKey := store.ContainerKey(conn.SourceHostID, conn.SourceContainerID)
		if _, ok := containerByID[sourceKey]; !ok {
			continue
		}
		sourceID := "container:" + sourceKey

		target := containerByHostIP[hostIPKey{conn.SourceHostID, conn.TargetIP}]
		if target == nil {
			if th := hostByIP[conn.TargetIP]; th != nil {
				target = containerPublishingPort(containersByHost[th.ID], conn.TargetPort)
			}
		}

		var targetID string
		switch {
		case target != nil:
			targetID = "container:" + target.ID
		case hostByIP[conn.TargetIP] != nil:
			// A known host's IP with nothing published on that port:
			// not external traffic, just unattributable. Drop.
			continue
		default:
			if len(externalSeen) >= maxExternalNodes {
				continue
			}
			externalID := "external:" + conn.TargetIP
			if !externalSeen[externalID] {
				externalSeen[externalID] = true
				externalNodes = append(externalNodes, Node{
					ID:    externalID,
					Label: conn.TargetIP,
					Type:  "external",
					Data:  map[string]any{"ip": conn.TargetIP},
				})
			}
			targetID = externalID
		}

		if sourceID == targetID {
			continue
		}

		key := nodePair{sourceID, targetID}
		agg, ok := aggregates[key]
		if !ok {
			agg = &connEdgeAgg{
				protocol: conn.Protocol,
				connType: conn.ConnectionType,
				methods:  map[string]bool{},
			}
			aggregates[key] = agg
			order = append(order, key)
		}
		method := conn.SourceMethod
		if method == "" {
			method = "proc_net"
		}
		agg.methods[method] = true
	}

	edges := make([]Edge, 0, len(order))
	for _, key := range order {
		agg := aggregates[key]

		method := "proc_net"
		switch {
		case agg.methods["tcpdump"] && agg.methods["proc_net"]:
			method = "both"
		case agg.methods["tcpdump"]:
			method = "tcpdump"
		}

		edges = append(edges, Edge{
			ID:     "conn:" + key.source + ":" + key.target,
			Source: key.source,
			Target: key.target,
			Type:   "connection",
			Data: map[string]any{
				"protocol":        agg.protocol,
				"connection_type": agg.connType,
				"source_method":   method,
			},
		})
	}
	return edges, externalNodes
}

// containerPublishingPort finds a container exposing hostPort on its host.
func containerPublishingPort(containers []store.Container, hostPort int) *store.Container {
	for i := range containers {
		for _, p := range containers[i].Ports {
			if p.HostPort > 0 && p.HostPort == hostPort {
				return &containers[i]
			}
		}
	}
	return nil
}

// Package deps infers service dependencies for compose-managed containers.
// Declared dependencies come from the project's compose manifest; likely
// runtime dependencies are added from connection-shaped environment
// variables and from service-name mentions in recent container logs.
package deps

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// Environment keys shaped like service connection settings. Values of
// matching keys are scanned for sibling service names.
var (
	connectionKeyPattern = regexp.MustCompile(`(DATABASE|DB|REDIS|MONGO|POSTGRES|MYSQL|ELASTIC|RABBIT|KAFKA).*(HOST|URL|URI)`)
	connectionKeySuffix  = regexp.MustCompile(`_(HOST|URL|URI|SERVER|ENDPOINT)$`)
)

// Patterns that pull likely service names out of log lines. The last
// capture group is the candidate name.
var logPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)connect(?:ed|ing) to (\w+)`),
	regexp.MustCompile(`(?i)resolv(?:ed|ing) (\w+)`),
	regexp.MustCompile(`(?i)https?://(\w+)[:/]`),
	regexp.MustCompile(`(?i)@(\w+):`),
}

// logTail limits how many recent log lines feed the log heuristic.
const logTail = 100

// Inferrer resolves dependencies for containers that carry compose labels.
// Compose manifests are parsed once per project per run and cached.
type Inferrer struct {
	docker      docker.API
	searchPaths []string
	log         *logging.Logger

	mu       sync.Mutex
	projects map[string]*manifest
}

// NewInferrer creates an Inferrer. docker may be nil to disable the log
// heuristic; searchPaths are the directories scanned for compose projects
// when the container labels do not point at a manifest.
func NewInferrer(d docker.API, searchPaths []string, log *logging.Logger) *Inferrer {
	return &Inferrer{
		docker:      d,
		searchPaths: searchPaths,
		log:         log.Component("deps"),
		projects:    make(map[string]*manifest),
	}
}

// Infer returns the deduplicated union of declared and heuristic
// dependencies for one container, excluding the container's own service.
// Containers without compose labels have no dependencies.
func (inf *Inferrer) Infer(ctx context.Context, c *report.ContainerInfo) []string {
	if c.ComposeProject == "" || c.ComposeService == "" {
		return []string{}
	}
	man := inf.project(c)

	seen := make(map[string]bool)
	out := []string{}
	add := func(name string) {
		if name == "" || name == c.ComposeService || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, dep := range man.declared[c.ComposeService] {
		add(dep)
	}
	for _, dep := range man.envRefs {
		add(dep)
	}
	for _, dep := range matchEnvironment(c.Environment, man.siblings) {
		add(dep)
	}
	if c.Status == report.StatusRunning && inf.docker != nil {
		for _, dep := range inf.matchLogs(ctx, c.ID, man.siblings) {
			add(dep)
		}
	}

	sort.Strings(out)
	return out
}

// project returns the cached manifest for the container's compose project,
// parsing it on first use.
func (inf *Inferrer) project(c *report.ContainerInfo) *manifest {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	if man, ok := inf.projects[c.ComposeProject]; ok {
		return man
	}
	man := inf.loadManifest(c)
	inf.projects[c.ComposeProject] = man
	return man
}

// matchEnvironment scans connection-shaped environment values for sibling
// service names, matched case-insensitively as substrings.
func matchEnvironment(env map[string]string, siblings []string) []string {
	var hits []string
	seen := make(map[string]bool)
	for key, value := range env {
		if value == "" || !isConnectionKey(key) {
			continue
		}
		lower := strings.ToLower(value)
		for _, sib := range siblings {
			if !seen[sib] && strings.Contains(lower, strings.ToLower(sib)) {
				seen[sib] = true
				hits = append(hits, sib)
			}
		}
	}
	sort.Strings(hits)
	return hits
}

func isConnectionKey(key string) bool {
	upper := strings.ToUpper(strings.TrimSpace(key))
	return connectionKeyPattern.MatchString(upper) || connectionKeySuffix.MatchString(upper)
}

// matchLogs tails the container's recent logs and matches extracted names
// against sibling services by case-insensitive equality.
func (inf *Inferrer) matchLogs(ctx context.Context, containerID string, siblings []string) []string {
	if len(siblings) == 0 {
		return nil
	}
	stdout, stderr, err := inf.docker.ContainerLogs(ctx, containerID, logTail, time.Time{})
	if err != nil {
		inf.log.Debug("log heuristic skipped", "container", containerID, "error", err)
		return nil
	}

	var hits []string
	seen := make(map[string]bool)
	for _, text := range []string{stdout, stderr} {
		for _, pat := range logPatterns {
			for _, m := range pat.FindAllStringSubmatch(text, -1) {
				name := m[len(m)-1]
				for _, sib := range siblings {
					if !seen[sib] && strings.EqualFold(sib, name) {
						seen[sib] = true
						hits = append(hits, sib)
					}
				}
			}
		}
	}
	sort.Strings(hits)
	return hits
}

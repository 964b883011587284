package deps

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/infra-mapper/infra-mapper/internal/report"
)

// The standard compose file names, in lookup order.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// manifest is the cached knowledge about one compose project.
type manifest struct {
	declared map[string][]string // service -> depends_on + links targets
	siblings []string            // every service name in the project
	envRefs  []string            // siblings referenced from the project's .env
}

func emptyManifest() *manifest {
	return &manifest{declared: make(map[string][]string)}
}

// loadManifest locates and parses the compose file for the container's
// project. A project whose manifest cannot be found or parsed yields an
// empty manifest, so inference degrades to nothing rather than failing.
func (inf *Inferrer) loadManifest(c *report.ContainerInfo) *manifest {
	path := inf.findComposeFile(c)
	if path == "" {
		inf.log.Debug("no compose file found", "project", c.ComposeProject)
		return emptyManifest()
	}

	man, err := parseComposeFile(path)
	if err != nil {
		inf.log.Warn("failed to parse compose file", "path", path, "error", err)
		return emptyManifest()
	}
	man.envRefs = scanEnvFile(filepath.Join(filepath.Dir(path), ".env"), man.siblings)
	inf.log.Debug("parsed compose project", "project", c.ComposeProject, "path", path, "services", len(man.siblings))
	return man
}

// findComposeFile resolves the manifest path: the compose working_dir label
// first, then the config_files label entries, then each search path joined
// with the project name.
func (inf *Inferrer) findComposeFile(c *report.ContainerInfo) string {
	workingDir := c.Labels["com.docker.compose.project.working_dir"]

	var candidates []string
	if workingDir != "" {
		for _, name := range composeFileNames {
			candidates = append(candidates, filepath.Join(workingDir, name))
		}
	}
	if files := c.Labels["com.docker.compose.project.config_files"]; files != "" {
		for _, f := range strings.Split(files, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !filepath.IsAbs(f) && workingDir != "" {
				f = filepath.Join(workingDir, f)
			}
			candidates = append(candidates, f)
		}
	}
	for _, base := range inf.searchPaths {
		for _, name := range composeFileNames {
			candidates = append(candidates, filepath.Join(base, c.ComposeProject, name))
		}
	}

	for _, path := range candidates {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	DependsOn yaml.Node `yaml:"depends_on"`
	Links     []string  `yaml:"links"`
}

func parseComposeFile(path string) (*manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file composeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	man := &manifest{declared: make(map[string][]string, len(file.Services))}
	for name := range file.Services {
		man.siblings = append(man.siblings, name)
	}
	sort.Strings(man.siblings)

	for name, svc := range file.Services {
		deps := dependsOnNames(svc.DependsOn)
		for _, link := range svc.Links {
			// links entries may carry a ":alias" suffix
			target, _, _ := strings.Cut(link, ":")
			if target != "" && !containsString(deps, target) {
				deps = append(deps, target)
			}
		}
		man.declared[name] = deps
	}
	return man, nil
}

// dependsOnNames handles both compose forms: the plain list of service
// names and the long map form with per-dependency conditions.
func dependsOnNames(node yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil
		}
		return names
	case yaml.MappingNode:
		var m map[string]yaml.Node
		if err := node.Decode(&m); err != nil {
			return nil
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	default:
		return nil
	}
}

// scanEnvFile reads the project's .env and returns siblings referenced from
// connection-shaped variables. A missing .env is not an error.
func scanEnvFile(path string, siblings []string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var refs []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !isConnectionKey(key) {
			continue
		}
		lower := strings.ToLower(value)
		for _, sib := range siblings {
			if !seen[sib] && strings.Contains(lower, strings.ToLower(sib)) {
				seen[sib] = true
				refs = append(refs, sib)
			}
		}
	}
	sort.Strings(refs)
	return refs
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package deps extracts declared dependencies from project manifests and
// computes per-dependency file usage.
package deps

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/tanishqjotwani/picocode/internal/store"
)

// Scan reads every recognized manifest under root. Direct dependencies come
// from the primary manifests; transitive ones from lockfiles when
// includeTransitive is set.
func Scan(root string, includeTransitive bool) (direct, transitive []store.Dependency) {
	direct = append(direct, readRequirementsTxt(root)...)
	direct = append(direct, readPyprojectTOML(root)...)
	direct = append(direct, readPackageJSON(root)...)
	direct = append(direct, readCargoTOML(root)...)
	direct = append(direct, readGoMod(root)...)
	direct = append(direct, readPomXML(root)...)
	direct = append(direct, readBuildGradle(root)...)

	if includeTransitive {
		transitive = append(transitive, readCargoLock(root)...)
		transitive = append(transitive, readGoSum(root)...)
		for i := range transitive {
			transitive[i].Transitive = true
		}
	}
	return direct, transitive
}

// versionSeps are the pinning operators recognized in requirements.txt.
var versionSeps = []string{"==", ">=", "<=", "~=", ">", "<"}

func readRequirementsTxt(root string) []store.Dependency {
	f, err := os.Open(filepath.Join(root, "requirements.txt"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var deps []store.Dependency
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dep := store.Dependency{Name: line, Language: "python"}
		for _, sep := range versionSeps {
			if idx := strings.Index(line, sep); idx >= 0 {
				dep.Name = strings.TrimSpace(line[:idx])
				dep.Version = strings.TrimSpace(line[idx+len(sep):])
				break
			}
		}
		deps = append(deps, dep)
	}
	return deps
}

func readPyprojectTOML(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "pyproject.toml"))
	if err != nil {
		return nil
	}

	var doc struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		log.Debug("Failed to parse pyproject.toml", "root", root, "error", err)
		return nil
	}

	var deps []store.Dependency
	for _, raw := range doc.Project.Dependencies {
		parts := strings.Fields(raw)
		if len(parts) == 0 {
			continue
		}
		deps = append(deps, store.Dependency{
			Name:     parts[0],
			Version:  strings.Join(parts[1:], " "),
			Language: "python",
		})
	}
	names := make([]string, 0, len(doc.Tool.Poetry.Dependencies))
	for name := range doc.Tool.Poetry.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		deps = append(deps, store.Dependency{
			Name:     name,
			Version:  versionString(doc.Tool.Poetry.Dependencies[name]),
			Language: "python",
		})
	}
	return deps
}

func versionString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if ver, ok := t["version"].(string); ok {
			return ver
		}
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func readPackageJSON(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Debug("Failed to parse package.json", "root", root, "error", err)
		return nil
	}

	var deps []store.Dependency
	for _, section := range []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"} {
		raw, ok := doc[section]
		if !ok {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			deps = append(deps, store.Dependency{Name: name, Version: m[name], Language: "javascript"})
		}
	}
	return deps
}

func readCargoTOML(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		return nil
	}

	var doc struct {
		Dependencies    map[string]any `toml:"dependencies"`
		DevDependencies map[string]any `toml:"dev-dependencies"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		log.Debug("Failed to parse Cargo.toml", "root", root, "error", err)
		return nil
	}

	var deps []store.Dependency
	for _, section := range []map[string]any{doc.Dependencies, doc.DevDependencies} {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			deps = append(deps, store.Dependency{
				Name:     name,
				Version:  versionString(section[name]),
				Language: "rust",
			})
		}
	}
	return deps
}

func readCargoLock(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "Cargo.lock"))
	if err != nil {
		return nil
	}

	var doc struct {
		Package []struct {
			Name    string `toml:"name"`
			Version string `toml:"version"`
		} `toml:"package"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		log.Debug("Failed to parse Cargo.lock", "root", root, "error", err)
		return nil
	}

	var deps []store.Dependency
	for _, pkg := range doc.Package {
		if pkg.Name == "" || pkg.Version == "" {
			continue
		}
		deps = append(deps, store.Dependency{Name: pkg.Name, Version: pkg.Version, Language: "rust"})
	}
	return deps
}

var (
	goModComment      = regexp.MustCompile(`//.*`)
	goModRequireBlock = regexp.MustCompile(`(?s)require\s*\((.*?)\)`)
	goModRequireLine  = regexp.MustCompile(`require\s+([^\n(]+)`)
)

func readGoMod(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil
	}
	content := goModComment.ReplaceAllString(string(data), "")

	var deps []store.Dependency
	for _, block := range goModRequireBlock.FindAllStringSubmatch(content, -1) {
		for _, line := range strings.Split(block[1], "\n") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				deps = append(deps, store.Dependency{Name: parts[0], Version: parts[1], Language: "go"})
			}
		}
	}
	for _, m := range goModRequireLine.FindAllStringSubmatch(content, -1) {
		parts := strings.Fields(m[1])
		if len(parts) >= 2 {
			deps = append(deps, store.Dependency{Name: parts[0], Version: parts[1], Language: "go"})
		}
	}
	return deps
}

func readGoSum(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "go.sum"))
	if err != nil {
		return nil
	}

	seen := make(map[[2]string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) >= 2 {
			version := strings.TrimSuffix(parts[1], "/go.mod")
			seen[[2]string{parts[0], version}] = true
		}
	}

	keys := make([][2]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	deps := make([]store.Dependency, 0, len(keys))
	for _, k := range keys {
		deps = append(deps, store.Dependency{Name: k[0], Version: k[1], Language: "go"})
	}
	return deps
}

// pomDependency is one <dependency> element regardless of nesting depth.
type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

func readPomXML(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "pom.xml"))
	if err != nil {
		return nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	var deps []store.Dependency
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "dependency" {
			continue
		}
		var d pomDependency
		if err := decoder.DecodeElement(&d, &start); err != nil {
			continue
		}
		if d.ArtifactID == "" {
			continue
		}
		name := d.ArtifactID
		if d.GroupID != "" {
			name = d.GroupID + ":" + d.ArtifactID
		}
		deps = append(deps, store.Dependency{Name: name, Version: d.Version, Language: "java"})
	}
	return deps
}

var gradleDep = regexp.MustCompile(`(?:implementation|api|compile|compileOnly|runtimeOnly)\s+['"]([^:'"]+):([^:'"]+):([^'"]+)['"]`)

func readBuildGradle(root string) []store.Dependency {
	data, err := os.ReadFile(filepath.Join(root, "build.gradle"))
	if err != nil {
		return nil
	}

	var deps []store.Dependency
	for _, m := range gradleDep.FindAllStringSubmatch(string(data), -1) {
		deps = append(deps, store.Dependency{
			Name:     m[1] + ":" + m[2],
			Version:  m[3],
			Language: "java",
		})
	}
	return deps
}

// UsageCounts counts, for each dependency, how many indexed file paths
// contain its name as a path component. Suffixed variants like name-1.2.3
// or name_internal count too; substring hits inside longer names do not.
func UsageCounts(paths []string, deps []store.Dependency) map[string]int {
	counts := make(map[string]int, len(deps))
	for _, dep := range deps {
		if dep.Name == "" {
			continue
		}
		pattern, err := regexp.Compile(`(?i)[/\\]` + regexp.QuoteMeta(dep.Name) + `(?:[-_]\w+)?[/\\]`)
		if err != nil {
			continue
		}
		n := 0
		for _, p := range paths {
			if pattern.MatchString("/" + p) {
				n++
			}
		}
		counts[dep.Name] = n
	}
	return counts
}

// WithUsage returns deps annotated with usage counts computed from paths.
func WithUsage(paths []string, deps []store.Dependency) []store.Dependency {
	counts := UsageCounts(paths, deps)
	out := make([]store.Dependency, len(deps))
	for i, d := range deps {
		d.UsageCount = counts[d.Name]
		out[i] = d
	}
	return out
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgoldverg/blast/pkg/requester"
	"gopkg.in/yaml.v3"
)

// fetchPlan lists files to fetch one after another. Entries inherit the
// document level server, output_dir and drop unless they set their own.
type fetchPlan struct {
	Version   int         `json:"version" yaml:"version"`
	Server    string      `json:"server" yaml:"server"`
	OutputDir string      `json:"output_dir" yaml:"output_dir"`
	Drop      string      `json:"drop" yaml:"drop"`
	Targets   stringList  `json:"targets" yaml:"targets"`
	Files     []planEntry `json:"files" yaml:"files"`
}

type planEntry struct {
	Name      string  `json:"name" yaml:"name"`
	Server    string  `json:"server" yaml:"server"`
	OutputDir string  `json:"output_dir" yaml:"output_dir"`
	Drop      *string `json:"drop" yaml:"drop"`
}

// stringList accepts either a single string or a list of strings.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var value string
		if err := node.Decode(&value); err != nil {
			return err
		}
		*s = splitNonEmpty([]string{value})
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			var item string
			if err := child.Decode(&item); err != nil {
				return err
			}
			items = append(items, item)
		}
		*s = splitNonEmpty(items)
		return nil
	default:
		return fmt.Errorf("unsupported YAML type for string list")
	}
}

func (s *stringList) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = splitNonEmpty([]string{value})
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = splitNonEmpty(list)
	return nil
}

func splitNonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func loadFetchPlan(path string) (*fetchPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	format := strings.ToLower(filepath.Ext(path))
	if format != ".yaml" && format != ".yml" && format != ".json" {
		format = ".yaml"
	}
	doc, err := decodeFetchPlan(data, format)
	if err != nil {
		return nil, err
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported plan version %d", doc.Version)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeFetchPlan(data []byte, format string) (*fetchPlan, error) {
	var doc fetchPlan
	switch format {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}
	return &doc, nil
}

func (doc *fetchPlan) validate() error {
	if len(doc.Targets) == 0 && len(doc.Files) == 0 {
		return fmt.Errorf("plan lists no targets or files")
	}
	for i, f := range doc.Files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("files[%d] missing name", i)
		}
		if strings.TrimSpace(f.Server) == "" && strings.TrimSpace(doc.Server) == "" {
			return fmt.Errorf("files[%d] has no server and the plan sets no default", i)
		}
	}
	return nil
}

// jobs expands the plan in document order: targets first, then files.
func (doc *fetchPlan) jobs() ([]fetchJob, error) {
	defaultDrop, err := requester.ParseDropSet(doc.Drop)
	if err != nil {
		return nil, fmt.Errorf("plan drop: %w", err)
	}

	out := make([]fetchJob, 0, len(doc.Targets)+len(doc.Files))
	for i, raw := range doc.Targets {
		target, err := parseFetchTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		out = append(out, fetchJob{Target: target, Drop: cloneDropSet(defaultDrop), OutputDir: doc.OutputDir})
	}

	for i, f := range doc.Files {
		server := strings.TrimSpace(f.Server)
		if server == "" {
			server = strings.TrimSpace(doc.Server)
		}
		raw := "@" + strings.TrimPrefix(server, "@") + "/" + strings.TrimLeft(strings.TrimSpace(f.Name), "/")
		target, err := parseFetchTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}

		drop := cloneDropSet(defaultDrop)
		if f.Drop != nil {
			if drop, err = requester.ParseDropSet(*f.Drop); err != nil {
				return nil, fmt.Errorf("files[%d] drop: %w", i, err)
			}
		}
		outDir := doc.OutputDir
		if f.OutputDir != "" {
			outDir = f.OutputDir
		}
		out = append(out, fetchJob{Target: target, Drop: drop, OutputDir: outDir})
	}
	return out, nil
}

func cloneDropSet(d requester.DropSet) requester.DropSet {
	out := make(requester.DropSet, len(d))
	for seq := range d {
		out[seq] = struct{}{}
	}
	return out
}

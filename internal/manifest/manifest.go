// Package manifest parses the declarative mirror manifest into validated
// configuration. Every diagnostic carries the filename and the 1-based
// line and column of the offending node.
package manifest

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// FileSpec names one file to mirror: source inside the upstream, target
// inside the downstream.
type FileSpec struct {
	Source typedpath.RelFile
	Target typedpath.RelFile
}

// RepoSpec is one upstream with its ordered file list.
type RepoSpec struct {
	Source typedpath.Remote
	Files  []FileSpec
}

// Config is the parsed manifest.
type Config struct {
	Repos []RepoSpec
}

// Error is a parse failure pointing at a node in the manifest document.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	position := e.File
	if e.Line > 0 {
		position = fmt.Sprintf("%s:%d:%d", position, e.Line, e.Column)
	}
	return fmt.Sprintf("an unexpected error occurred during parsing @ %s: %s", position, e.Message)
}

// ParseFile reads and parses the manifest at path.
func ParseFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &Error{File: filename, Message: err.Error()}
	}
	return Parse(filename, data)
}

// Parse parses manifest data, reporting errors against filename.
func Parse(filename string, data []byte) (config *Config, err error) {
	p := &parser{
		filename:    filename,
		visiting:    map[*yaml.Node]bool{},
		seenTargets: map[string]*yaml.Node{},
		seenRemotes: map[string]*yaml.Node{},
	}
	defer func() {
		if r := recover(); r != nil {
			parseErr, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			config, err = nil, parseErr
		}
	}()
	var doc yaml.Node
	if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
		return nil, &Error{File: filename, Message: yamlErr.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &Error{File: filename, Message: "expected mirror mapping, got an empty document."}
	}
	return p.parseConfig(doc.Content[0]), nil
}

type parser struct {
	filename    string
	current     *yaml.Node
	visiting    map[*yaml.Node]bool
	seenTargets map[string]*yaml.Node
	seenRemotes map[string]*yaml.Node
}

// fail aborts the parse with an error pointing at node, or at the current
// node when node is nil.
func (p *parser) fail(node *yaml.Node, format string, args ...any) {
	if node == nil {
		node = p.current
	}
	err := &Error{File: p.filename, Message: fmt.Sprintf(format, args...)}
	if node != nil {
		err.Line = node.Line
		err.Column = node.Column
	}
	panic(err)
}

// enter makes node the error context for fn, following aliases and
// rejecting recursive references by node identity.
func enter[T any](p *parser, node *yaml.Node, fn func(*yaml.Node) T) T {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	previous := p.current
	p.current = node
	if p.visiting[node] {
		p.fail(node, "recursive reference detected.")
	}
	p.visiting[node] = true
	defer func() {
		p.current = previous
		delete(p.visiting, node)
	}()
	return fn(node)
}

var safeTags = map[string]bool{
	"!!str": true, "!!map": true, "!!seq": true,
	"!!null": true, "!!int": true, "!!float": true, "!!bool": true,
	"!!merge": true, "": true,
}

func (p *parser) checkTag(node *yaml.Node) {
	if !safeTags[node.Tag] {
		p.fail(node, "unsupported tag %s; only plain data is allowed.", node.Tag)
	}
}

func (p *parser) typeOf(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!str":
			if node.Value == "" {
				return "empty string"
			}
			return "string"
		case "!!int":
			return "integer"
		case "!!float":
			return "float"
		case "!!bool":
			return "boolean"
		case "!!null":
			return "null"
		}
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}

func (p *parser) isString(node *yaml.Node) bool {
	p.checkTag(node)
	return node.Kind == yaml.ScalarNode && node.Tag == "!!str"
}

// parseMapping walks a mapping node, dispatching each value to the subparser
// registered for its key. Missing keys, unknown keys, and duplicate keys all
// fail.
func (p *parser) parseMapping(node *yaml.Node, name string, subparsers map[string]func(*yaml.Node)) {
	p.checkTag(node)
	if node.Kind != yaml.MappingNode {
		p.fail(nil, "expected %s mapping, got %s.", name, p.typeOf(node))
	}
	options := make([]string, 0, len(subparsers))
	for key := range subparsers {
		options = append(options, key)
	}
	seen := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := p.parseStringKey(keyNode, options)
		if seen[key] {
			p.fail(keyNode, "duplicate key %q in mapping.", key)
		}
		seen[key] = true
		subparsers[key](valueNode)
	}
	for _, key := range sorted(options) {
		if !seen[key] {
			p.fail(nil, "%s mapping is missing the key %q.", name, key)
		}
	}
}

func (p *parser) parseStringKey(node *yaml.Node, options []string) string {
	if !p.isString(node) {
		p.fail(node, "expected a string as the key, got %s.", p.typeOf(node))
	}
	key := node.Value
	for _, option := range options {
		if key == option {
			return key
		}
	}
	if suggestion, ok := suggest(key, options); ok {
		p.fail(node, "invalid key %q, did you mean %q?", key, suggestion)
	}
	p.fail(node, "mapping key should be one of %v, got %q.", sorted(options), key)
	return ""
}

func (p *parser) parseConfig(node *yaml.Node) *Config {
	return enter(p, node, func(node *yaml.Node) *Config {
		config := &Config{}
		p.parseMapping(node, "mirror", map[string]func(*yaml.Node){
			"repos": func(node *yaml.Node) {
				config.Repos = p.parseRepos(node)
			},
		})
		return config
	})
}

func (p *parser) parseRepos(node *yaml.Node) []RepoSpec {
	return parseSequence(p, node, "repos", p.parseRepo)
}

func (p *parser) parseRepo(node *yaml.Node) RepoSpec {
	return enter(p, node, func(node *yaml.Node) RepoSpec {
		repo := RepoSpec{}
		p.parseMapping(node, "repo", map[string]func(*yaml.Node){
			"source": func(node *yaml.Node) {
				repo.Source = p.parseRemote(node)
			},
			"files": func(node *yaml.Node) {
				repo.Files = p.parseFiles(node)
			},
		})
		return repo
	})
}

// parseSequence parses a nonempty sequence of T.
func parseSequence[T any](p *parser, node *yaml.Node, names string, subparser func(*yaml.Node) T) []T {
	return enter(p, node, func(node *yaml.Node) []T {
		p.checkTag(node)
		if node.Kind != yaml.SequenceNode {
			p.fail(nil, "expected sequence of %s, got %s.", names, p.typeOf(node))
		}
		if len(node.Content) == 0 {
			p.fail(nil, "%s list is empty.", names)
		}
		items := make([]T, 0, len(node.Content))
		for _, child := range node.Content {
			items = append(items, subparser(child))
		}
		return items
	})
}

func (p *parser) parseRemote(node *yaml.Node) typedpath.Remote {
	return enter(p, node, func(node *yaml.Node) typedpath.Remote {
		if !p.isString(node) {
			p.fail(nil, "expected remote as a string, got %s.", p.typeOf(node))
		}
		if path.Clean(node.Value) == "." {
			p.fail(nil, "remote %q points to the same repository, which is not allowed.", node.Value)
		}
		remote := typedpath.NewRemote(node.Value)
		p.checkDuplicate(remote.Canonical(), remote.String(), node, p.seenRemotes, "source")
		return remote
	})
}

func (p *parser) parseFiles(node *yaml.Node) []FileSpec {
	return parseSequence(p, node, "files", p.parseFileSpec)
}

func (p *parser) parseFileSpec(node *yaml.Node) FileSpec {
	return enter(p, node, func(node *yaml.Node) FileSpec {
		var spec FileSpec
		switch {
		case p.isString(node):
			file := p.relFileFromScalar(node)
			spec = FileSpec{Source: file, Target: file}
		case node.Kind == yaml.MappingNode && len(node.Content) == 2 &&
			p.isString(node.Content[0]) && p.isString(node.Content[1]):
			spec = FileSpec{
				Source: p.relFileFromScalar(node.Content[1]),
				Target: p.relFileFromScalar(node.Content[0]),
			}
		default:
			p.fail(nil, "expected filename as a string or single mapping, got %s.", p.typeOf(node))
		}
		p.checkDuplicate(spec.Target.Canonical(), spec.Target.String(), node, p.seenTargets, "file")
		return spec
	})
}

func (p *parser) relFileFromScalar(node *yaml.Node) typedpath.RelFile {
	file, err := typedpath.NewRelFile(node.Value)
	if err != nil {
		p.fail(node, "the filename %q is not relative to the repository and is therefore not valid.", node.Value)
	}
	canonical := file.Canonical()
	if canonical == ".." || strings.HasPrefix(canonical, "../") {
		p.fail(node, "the filename %q goes out of the repository and is therefore not valid.", node.Value)
	}
	if canonical == "." || canonical == "" {
		p.fail(node, "the filename %q points to the root of the repository and is therefore not valid.", node.Value)
	}
	return file
}

// checkDuplicate fails when canonical has been seen before anywhere in the
// manifest, reporting the line of the first use.
func (p *parser) checkDuplicate(canonical, display string, node *yaml.Node, visited map[string]*yaml.Node, name string) {
	if existing, ok := visited[canonical]; ok {
		details := ""
		if existing.Line > 0 {
			details = fmt.Sprintf("; already used on line %d", existing.Line)
		}
		p.fail(node, "duplicate %s %s%s.", name, display, details)
	}
	visited[canonical] = node
}

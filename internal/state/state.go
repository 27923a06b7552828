// Package state round-trips the lock document: one record per mirrored
// upstream, listing the commit the downstream reflects and the files taken
// from it. Loading is strict so that hand-edited or corrupted lock files are
// rejected rather than silently reinterpreted.
package state

import (
	"bytes"
	"slices"

	"github.com/alecthomas/errors"
	"gopkg.in/yaml.v3"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// Header is written at the top of every lock file.
const Header = "# DANGER: EDIT AT YOUR OWN RISK. This file is managed by mirror; run `mirror sync` instead of editing it by hand.\n"

// RepoState records the synchronisation point of one upstream.
type RepoState struct {
	Source typedpath.Remote
	Commit typedpath.Commit
	Files  []typedpath.RelFile
}

// MirrorState is the full lock document, in manifest order.
type MirrorState []RepoState

// ByCanonicalSource returns the record for the remote with the same
// canonical source, if any.
func (s MirrorState) ByCanonicalSource(remote typedpath.Remote) (RepoState, bool) {
	canonical := remote.Canonical()
	for _, repo := range s {
		if repo.Source.Canonical() == canonical {
			return repo, true
		}
	}
	return RepoState{}, false
}

// Load parses a lock document. Unknown keys, missing keys, non-string
// scalars, unsorted file lists, and duplicate canonical sources are all
// errors.
func Load(data []byte) (MirrorState, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse lock document")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return MirrorState{}, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return MirrorState{}, nil
	}
	repos, err := loadSequence(root, "repo states", loadRepoState)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, repo := range repos {
		canonical := repo.Source.Canonical()
		if seen[canonical] {
			return nil, errors.Errorf("duplicate source %s in lock document", repo.Source)
		}
		seen[canonical] = true
	}
	return repos, nil
}

func loadRepoState(node *yaml.Node) (RepoState, error) {
	repo := RepoState{}
	err := loadMapping(node, "repo state", map[string]func(*yaml.Node) error{
		"source": func(node *yaml.Node) error {
			raw, err := loadString(node, "source")
			repo.Source = typedpath.NewRemote(raw)
			return err
		},
		"commit": func(node *yaml.Node) error {
			raw, err := loadString(node, "commit")
			repo.Commit = typedpath.Commit(raw)
			return err
		},
		"files": func(node *yaml.Node) error {
			files, err := loadSequence(node, "files", func(node *yaml.Node) (typedpath.RelFile, error) {
				raw, err := loadString(node, "file")
				if err != nil {
					return typedpath.RelFile{}, err
				}
				return typedpath.NewRelFile(raw)
			})
			if err != nil {
				return err
			}
			if !slices.IsSortedFunc(files, compareFiles) {
				return errors.Errorf("file list is not sorted")
			}
			repo.Files = files
			return nil
		},
	})
	return repo, err
}

// loadMapping expects a mapping with exactly the given keys.
func loadMapping(node *yaml.Node, name string, fields map[string]func(*yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("expected %s mapping at line %d", name, node.Line)
	}
	seen := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || keyNode.Tag != "!!str" {
			return errors.Errorf("expected string key in %s at line %d", name, keyNode.Line)
		}
		loader, ok := fields[keyNode.Value]
		if !ok {
			return errors.Errorf("unknown key %q in %s at line %d", keyNode.Value, name, keyNode.Line)
		}
		if seen[keyNode.Value] {
			return errors.Errorf("duplicate key %q in %s at line %d", keyNode.Value, name, keyNode.Line)
		}
		seen[keyNode.Value] = true
		if err := loader(valueNode); err != nil {
			return err
		}
	}
	for key := range fields {
		if !seen[key] {
			return errors.Errorf("%s at line %d is missing the key %q", name, node.Line, key)
		}
	}
	return nil
}

// loadSequence expects a sequence of T.
func loadSequence[T any](node *yaml.Node, names string, load func(*yaml.Node) (T, error)) ([]T, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errors.Errorf("expected sequence of %s at line %d", names, node.Line)
	}
	items := make([]T, 0, len(node.Content))
	for _, child := range node.Content {
		item, err := load(child)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func loadString(node *yaml.Node, name string) (string, error) {
	if node.Kind != yaml.ScalarNode || node.Tag != "!!str" {
		return "", errors.Errorf("expected string %s at line %d", name, node.Line)
	}
	return node.Value, nil
}

func compareFiles(a, b typedpath.RelFile) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Dump serialises the state deterministically: header comment, repos in
// manifest order, sorted file lists, block style.
func (s MirrorState) Dump() ([]byte, error) {
	type repoDoc struct {
		Source string   `yaml:"source"`
		Commit string   `yaml:"commit"`
		Files  []string `yaml:"files"`
	}
	docs := make([]repoDoc, 0, len(s))
	for _, repo := range s {
		files := make([]string, 0, len(repo.Files))
		for _, file := range repo.Files {
			files = append(files, file.String())
		}
		slices.Sort(files)
		docs = append(docs, repoDoc{
			Source: repo.Source.String(),
			Commit: repo.Commit.String(),
			Files:  files,
		})
	}
	var buf bytes.Buffer
	buf.WriteString(Header)
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(docs); err != nil {
		return nil, errors.Wrap(err, "encode lock document")
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.Wrap(err, "finalise lock document")
	}
	return buf.Bytes(), nil
}

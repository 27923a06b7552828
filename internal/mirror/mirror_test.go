package mirror_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/mirror"
	"github.com/George-Ogden/mirror-rorrim/internal/state"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

func TestMirrorFromParsedManifest(t *testing.T) {
	upstream1 := t.TempDir()
	upstream2 := t.TempDir()
	document := "repos:\n" +
		"  - source: " + upstream1 + "\n" +
		"    files:\n" +
		"      - file1\n" +
		"      - file3: file2\n" +
		"  - source: " + upstream2 + "\n" +
		"    files:\n" +
		"      - file4\n"
	config, err := manifest.Parse(".mirror.yaml", []byte(document))
	assert.NoError(t, err)

	semaphores := flock.NewTable()
	t.Cleanup(semaphores.ReleaseAll)
	m := mirror.New(config, nil, typedpath.MustAbsDir(t.TempDir()), semaphores)
	assert.Equal(t, 2, len(m.Repos))
	assert.Equal(t, upstream1, m.Repos[0].Source.String())
	assert.Equal(t, 2, len(m.Repos[0].Files))
	assert.Equal(t, "file2", m.Repos[0].Files[1].Source.String())
	assert.Equal(t, "file3", m.Repos[0].Files[1].Target.String())
}

func TestMirrorUpdateAllAcrossRepos(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	upstream1 := t.TempDir()
	upstream2 := t.TempDir()
	addCommit(t, upstream1, map[string]string{"file1": "one\n", "file2": "two\n"})
	addCommit(t, upstream2, map[string]string{"file3": "three\n"})
	downstream := t.TempDir()
	git(t, downstream, "init", "-q")

	config := &manifest.Config{Repos: []manifest.RepoSpec{
		quickSpec(t, upstream1, same("file1"), renamed("file2", "copied")),
		quickSpec(t, upstream2, same("file3")),
	}}
	f := newFixture(t)
	m := mirror.New(config, nil, f.cacheRoot, f.semaphores)

	assert.NoError(t, m.CheckoutAll(ctx))
	assert.NoError(t, m.UpdateAll(ctx, typedpath.MustAbsDir(downstream)))

	for name, content := range map[string]string{
		"file1": "one\n", "copied": "two\n", "file3": "three\n",
	} {
		data, err := os.ReadFile(filepath.Join(downstream, name))
		assert.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestMirrorCheck(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	upstream := t.TempDir()
	commit := addCommit(t, upstream, map[string]string{"a.txt": "hello\n"})

	config := &manifest.Config{Repos: []manifest.RepoSpec{
		quickSpec(t, upstream, same("a.txt")),
	}}

	f := newFixture(t)
	behind := mirror.New(config, nil, f.cacheRoot, f.semaphores)
	code, err := behind.Check(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, code)

	prior := state.MirrorState{{
		Source: typedpath.NewRemote(upstream),
		Commit: commit,
		Files:  []typedpath.RelFile{typedpath.MustRelFile("a.txt")},
	}}
	current := mirror.New(config, prior, f.cacheRoot, f.semaphores)
	code, err = current.Check(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestMirrorStateInManifestOrder(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	upstream1 := t.TempDir()
	upstream2 := t.TempDir()
	commit1 := addCommit(t, upstream1, map[string]string{"file1": "1\n"})
	commit2 := addCommit(t, upstream2, map[string]string{"file2": "2\n"})

	config := &manifest.Config{Repos: []manifest.RepoSpec{
		quickSpec(t, upstream2, same("file2")),
		quickSpec(t, upstream1, same("file1")),
	}}
	f := newFixture(t)
	m := mirror.New(config, nil, f.cacheRoot, f.semaphores)
	assert.NoError(t, m.CheckoutAll(ctx))

	records, err := m.State(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(records))
	assert.Equal(t, upstream2, records[0].Source.String())
	assert.Equal(t, commit2, records[0].Commit)
	assert.Equal(t, upstream1, records[1].Source.String())
	assert.Equal(t, commit1, records[1].Commit)
}

package vcs_test

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
	"github.com/George-Ogden/mirror-rorrim/internal/vcs"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_GLOBAL="+os.DevNull, "GIT_CONFIG_SYSTEM="+os.DevNull,
	)
	out, err := cmd.CombinedOutput()
	assert.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func commitFile(t *testing.T, dir, name, content string) typedpath.Commit {
	t.Helper()
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		git(t, dir, "init", "-q")
	}
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	git(t, dir, "add", "--all")
	git(t, dir, "commit", "-q", "-m", "commit")
	return typedpath.Commit(strings.TrimSpace(git(t, dir, "rev-parse", "HEAD")))
}

func TestCloneAndHeadCommit(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	upstream := t.TempDir()
	commit := commitFile(t, upstream, "a.txt", "hello\n")

	clone := typedpath.MustAbsDir(filepath.Join(t.TempDir(), "clone"))
	assert.NoError(t, vcs.Clone(ctx, typedpath.NewRemote(upstream), clone))

	head, err := vcs.HeadCommit(ctx, clone)
	assert.NoError(t, err)
	assert.Equal(t, commit, head)
}

func TestIsRepository(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	repo := typedpath.MustAbsDir(t.TempDir())
	assert.False(t, vcs.IsRepository(ctx, repo))
	assert.NoError(t, vcs.Init(ctx, repo))
	assert.True(t, vcs.IsRepository(ctx, repo))
}

func TestFetchAndResetHead(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	upstream := t.TempDir()
	commitFile(t, upstream, "a.txt", "one\n")

	clone := typedpath.MustAbsDir(filepath.Join(t.TempDir(), "clone"))
	assert.NoError(t, vcs.Clone(ctx, typedpath.NewRemote(upstream), clone))

	newTip := commitFile(t, upstream, "a.txt", "two\n")
	assert.NoError(t, vcs.FetchAndResetHead(ctx, clone))

	head, err := vcs.HeadCommit(ctx, clone)
	assert.NoError(t, err)
	assert.Equal(t, newTip, head)
	data, err := os.ReadFile(filepath.Join(clone.String(), "a.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "two\n", string(data))
}

func TestObjectKindAt(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	git(t, dir, "init", "-q")
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "inner"), []byte("x\n"), 0o644))
	commitFile(t, dir, "plain", "y\n")

	repo := typedpath.MustAbsDir(dir)
	kind, err := vcs.ObjectKindAt(ctx, repo, "", typedpath.MustRelFile("plain"))
	assert.NoError(t, err)
	assert.Equal(t, vcs.KindBlob, kind)

	kind, err = vcs.ObjectKindAt(ctx, repo, "", typedpath.MustRelFile("sub"))
	assert.NoError(t, err)
	assert.Equal(t, vcs.KindTree, kind)

	kind, err = vcs.ObjectKindAt(ctx, repo, "", typedpath.MustRelFile("absent"))
	assert.NoError(t, err)
	assert.Equal(t, vcs.KindMissing, kind)
}

func TestBlobReadsContentAtCommit(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	old := commitFile(t, dir, "a.txt", "old content\n")
	commitFile(t, dir, "a.txt", "new content\n")

	data, err := vcs.Blob(ctx, typedpath.MustAbsDir(dir), old, typedpath.MustRelFile("a.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "old content\n", string(data))
}

func TestDiffToDevnull(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	commitFile(t, dir, "a.txt", "hello\n")

	patch, err := vcs.DiffToDevnull(ctx, typedpath.MustAbsDir(dir), typedpath.MustRelFile("a.txt"))
	assert.NoError(t, err)
	assert.Contains(t, patch, "+hello")
	assert.Contains(t, patch, "--- /dev/null")
}

func TestDiffFromCommit(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	old := commitFile(t, dir, "a.txt", "old\n")
	commitFile(t, dir, "a.txt", "new\n")

	patch, err := vcs.DiffFromCommit(ctx, typedpath.MustAbsDir(dir), old, typedpath.MustRelFile("a.txt"))
	assert.NoError(t, err)
	assert.Contains(t, patch, "-old")
	assert.Contains(t, patch, "+new")
	assert.Contains(t, patch, "index ")
}

func TestApplyThreeWayEmptyPatch(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	old := commitFile(t, dir, "a.txt", "hello\n")
	repo := typedpath.MustAbsDir(dir)

	patch, err := vcs.DiffFromCommit(ctx, repo, old, typedpath.MustRelFile("a.txt"))
	assert.NoError(t, err)
	assert.Equal(t, "", patch)

	// An empty patch is fine when allowed.
	assert.NoError(t, vcs.ApplyThreeWay(ctx, repo, patch, true))
}

func TestHashObjectStoresBlob(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	commitFile(t, dir, "a.txt", "hello\n")
	repo := typedpath.MustAbsDir(dir)

	assert.NoError(t, vcs.HashObject(ctx, repo, []byte("ancestor content\n")))
}

func TestAddStagesFiles(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	dir := t.TempDir()
	commitFile(t, dir, "a.txt", "hello\n")
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new\n"), 0o644))

	repo := typedpath.MustAbsDir(dir)
	assert.NoError(t, vcs.Add(ctx, repo, typedpath.MustRelFile("b.txt")))
	status := git(t, dir, "status", "--porcelain")
	assert.Contains(t, status, "A  b.txt")
}

func TestCommandErrorCarriesStderr(t *testing.T) {
	_, ctx := logging.Configure(t.Context(), logging.Config{Level: slog.LevelError})
	repo := typedpath.MustAbsDir(t.TempDir())

	_, err := vcs.HeadCommit(ctx, repo)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exited with status")
	assert.Contains(t, err.Error(), "not a git repository")
}

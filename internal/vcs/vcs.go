// Package vcs is a thin adapter over the git binary. Every operation shells
// out with a scrubbed environment so that GIT_* variables of the caller
// cannot influence the backend.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// CommandError reports a git invocation that exited with an unexpected
// status, carrying the status and stderr for diagnostics.
type CommandError struct {
	Args   []string
	Status int
	Stdout string
	Stderr string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s exited with status %d", strings.Join(e.Args, " "), e.Status)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// scrubbedEnv returns the process environment with every backend-control
// variable removed.
func scrubbedEnv() []string {
	env := os.Environ()
	scrubbed := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "GIT_") {
			continue
		}
		scrubbed = append(scrubbed, kv)
	}
	return scrubbed
}

// run executes git in dir. Statuses 0 and 1 are success: git diff signals
// "files differ" and git apply -3 signals "applied with conflicts" via
// status 1, and both are expected outcomes.
func run(ctx context.Context, dir typedpath.AbsDir, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir.String()
	cmd.Env = scrubbedEnv()
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if cmd.ProcessState == nil {
		return "", errors.Wrap(err, "start git")
	}
	status := cmd.ProcessState.ExitCode()
	logger := logging.FromContext(ctx)
	level := slog.LevelDebug - 4
	if status > 1 {
		level = slog.LevelDebug
	}
	logger.Log(ctx, level, "Running git",
		"args", strings.Join(args, " "), "dir", dir.String(), "status", status)
	if err != nil && status != 1 {
		return "", &CommandError{Args: args, Status: status, Stdout: stdout.String(), Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

// Clone performs a full clone of remote into dir.
func Clone(ctx context.Context, remote typedpath.Remote, dir typedpath.AbsDir) error {
	parent := typedpath.MustAbsDir("/")
	_, err := run(ctx, parent, nil, "clone", "--", remote.Canonical(), dir.String())
	return errors.Wrapf(err, "clone %s", remote)
}

// IsRepository reports whether dir is a git working tree.
func IsRepository(ctx context.Context, dir typedpath.AbsDir) bool {
	if !dir.IsDir() {
		return false
	}
	_, err := run(ctx, dir, nil, "rev-parse", "--git-dir")
	return err == nil
}

// Init creates an empty repository in dir.
func Init(ctx context.Context, dir typedpath.AbsDir) error {
	_, err := run(ctx, dir, nil, "init")
	return errors.Wrap(err, "init")
}

// FetchAndResetHead fetches the tracked upstream and hard-resets the working
// tree, index and HEAD to the fetched commit.
func FetchAndResetHead(ctx context.Context, dir typedpath.AbsDir) error {
	if _, err := run(ctx, dir, nil, "fetch"); err != nil {
		return errors.Wrap(err, "fetch")
	}
	tip, err := run(ctx, dir, nil, "rev-parse", "@{upstream}")
	if err != nil {
		return errors.Wrap(err, "resolve upstream")
	}
	_, err = run(ctx, dir, nil, "reset", "--hard", strings.TrimSpace(tip))
	return errors.Wrap(err, "reset")
}

// HeadCommit returns the commit HEAD points at.
func HeadCommit(ctx context.Context, dir typedpath.AbsDir) (typedpath.Commit, error) {
	out, err := run(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD")
	}
	return typedpath.Commit(strings.TrimSpace(out)), nil
}

// ObjectKind classifies what a path names inside a commit's tree.
type ObjectKind int

const (
	KindMissing ObjectKind = iota
	KindBlob
	KindTree
	KindOther
)

// ObjectKindAt looks file up in the tree of commit (or HEAD when commit is
// empty) and reports its kind.
func ObjectKindAt(ctx context.Context, dir typedpath.AbsDir, commit typedpath.Commit, file typedpath.RelFile) (ObjectKind, error) {
	rev := "HEAD"
	if commit != "" {
		rev = commit.String()
	}
	out, err := run(ctx, dir, nil, "ls-tree", rev, "--", file.String())
	if err != nil {
		return KindMissing, errors.Wrapf(err, "ls-tree %s", file)
	}
	line := strings.TrimSpace(out)
	if line == "" {
		return KindMissing, nil
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return KindMissing, errors.Errorf("unexpected ls-tree output %q", line)
	}
	switch fields[1] {
	case "blob":
		return KindBlob, nil
	case "tree":
		return KindTree, nil
	default:
		return KindOther, nil
	}
}

// Blob returns the raw content of file at commit.
func Blob(ctx context.Context, dir typedpath.AbsDir, commit typedpath.Commit, file typedpath.RelFile) ([]byte, error) {
	out, err := run(ctx, dir, nil, "cat-file", "blob", commit.String()+":"+file.String())
	if err != nil {
		return nil, errors.Wrapf(err, "read %s at %s", file, commit.Short())
	}
	return []byte(out), nil
}

// DiffToDevnull diffs the on-disk file against /dev/null, producing a
// new-file patch. The full index is included so three-way apply can locate
// blobs.
func DiffToDevnull(ctx context.Context, dir typedpath.AbsDir, file typedpath.RelFile) (string, error) {
	out, err := run(ctx, dir, nil, "diff", "--no-index", "--full-index", "--", os.DevNull, file.String())
	return out, errors.Wrapf(err, "diff %s against %s", file, os.DevNull)
}

// DiffFromCommit diffs the working-tree file against its content at commit.
func DiffFromCommit(ctx context.Context, dir typedpath.AbsDir, commit typedpath.Commit, file typedpath.RelFile) (string, error) {
	out, err := run(ctx, dir, nil, "diff", "--full-index", commit.String(), "--", file.String())
	return out, errors.Wrapf(err, "diff %s from %s", file, commit.Short())
}

// ApplyThreeWay applies a unified patch with three-way merging. A
// conflict-free apply succeeds; conflicts leave markers in the target and
// still count as applied.
func ApplyThreeWay(ctx context.Context, dir typedpath.AbsDir, patch string, allowEmpty bool) error {
	args := []string{"apply"}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	args = append(args, "-3", "-")
	_, err := run(ctx, dir, []byte(patch), args...)
	return errors.Wrap(err, "apply patch")
}

// Add stages files in dir.
func Add(ctx context.Context, dir typedpath.AbsDir, files ...typedpath.RelFile) error {
	args := []string{"add", "--"}
	for _, f := range files {
		args = append(args, f.String())
	}
	_, err := run(ctx, dir, nil, args...)
	return errors.Wrap(err, "add")
}

// HashObject writes blob into the object database of dir, so that a
// subsequent three-way merge can find its ancestor.
func HashObject(ctx context.Context, dir typedpath.AbsDir, blob []byte) error {
	_, err := run(ctx, dir, blob, "hash-object", "--stdin", "-w")
	return errors.Wrap(err, "hash object")
}

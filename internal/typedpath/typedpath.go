// Package typedpath provides nominal path types that distinguish
// relative/absolute files and directories, so that invalid compositions are
// rejected at compile time or construction.
package typedpath

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

// RelFile is a relative path naming a file.
type RelFile struct {
	p string
}

// RelDir is a relative path naming a directory.
type RelDir struct {
	p string
}

// AbsFile is an absolute path naming a file.
type AbsFile struct {
	p string
}

// AbsDir is an absolute path naming a directory.
type AbsDir struct {
	p string
}

func NewRelFile(p string) (RelFile, error) {
	if filepath.IsAbs(p) {
		return RelFile{}, errors.Errorf("%q is not a relative path", p)
	}
	return RelFile{p}, nil
}

func NewRelDir(p string) (RelDir, error) {
	if filepath.IsAbs(p) {
		return RelDir{}, errors.Errorf("%q is not a relative path", p)
	}
	return RelDir{p}, nil
}

func NewAbsFile(p string) (AbsFile, error) {
	if !filepath.IsAbs(p) {
		return AbsFile{}, errors.Errorf("%q is not an absolute path", p)
	}
	return AbsFile{p}, nil
}

func NewAbsDir(p string) (AbsDir, error) {
	if !filepath.IsAbs(p) {
		return AbsDir{}, errors.Errorf("%q is not an absolute path", p)
	}
	return AbsDir{p}, nil
}

// MustRelFile panics if p is not relative. For constants and tests.
func MustRelFile(p string) RelFile {
	f, err := NewRelFile(p)
	if err != nil {
		panic(err)
	}
	return f
}

func MustRelDir(p string) RelDir {
	d, err := NewRelDir(p)
	if err != nil {
		panic(err)
	}
	return d
}

func MustAbsFile(p string) AbsFile {
	f, err := NewAbsFile(p)
	if err != nil {
		panic(err)
	}
	return f
}

func MustAbsDir(p string) AbsDir {
	d, err := NewAbsDir(p)
	if err != nil {
		panic(err)
	}
	return d
}

// Cwd returns the process working directory.
func Cwd() (AbsDir, error) {
	wd, err := os.Getwd()
	if err != nil {
		return AbsDir{}, errors.Wrap(err, "get working directory")
	}
	return AbsDir{wd}, nil
}

func (f RelFile) String() string { return f.p }
func (d RelDir) String() string  { return d.p }
func (f AbsFile) String() string { return f.p }
func (d AbsDir) String() string  { return d.p }

// Canonical normalises "." and ".." segments lexically, without touching the
// filesystem. The canonical form is used for equality and duplicate
// detection.
func (f RelFile) Canonical() string { return canonicalise(f.p) }
func (d RelDir) Canonical() string  { return canonicalise(d.p) }
func (f AbsFile) Canonical() string { return canonicalise(f.p) }
func (d AbsDir) Canonical() string  { return canonicalise(d.p) }

func canonicalise(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// JoinFile composes AbsDir / RelFile -> AbsFile.
func (d AbsDir) JoinFile(f RelFile) AbsFile {
	return AbsFile{filepath.Join(d.p, f.p)}
}

// JoinDir composes AbsDir / RelDir -> AbsDir.
func (d AbsDir) JoinDir(r RelDir) AbsDir {
	return AbsDir{filepath.Join(d.p, r.p)}
}

// JoinFile composes RelDir / RelFile -> RelFile.
func (d RelDir) JoinFile(f RelFile) RelFile {
	return RelFile{filepath.Join(d.p, f.p)}
}

// JoinDir composes RelDir / RelDir -> RelDir.
func (d RelDir) JoinDir(r RelDir) RelDir {
	return RelDir{filepath.Join(d.p, r.p)}
}

// WithSuffix appends a suffix to the directory path, producing a file path.
// Used for sidecar files next to a directory, e.g. "<slot>.sem".
func (d AbsDir) WithSuffix(suffix string) AbsFile {
	return AbsFile{d.p + suffix}
}

func (f RelFile) Exists() bool { return exists(f.p) }
func (d RelDir) Exists() bool  { return exists(d.p) }
func (f AbsFile) Exists() bool { return exists(f.p) }
func (d AbsDir) Exists() bool  { return exists(d.p) }

func (f AbsFile) IsFile() bool { return isFile(f.p) }
func (d AbsDir) IsDir() bool   { return isDir(d.p) }

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Less orders paths lexicographically over their string form, for
// deterministic state records.
func (f RelFile) Less(other RelFile) bool { return f.p < other.p }

// Commit is an opaque upstream revision identifier.
type Commit string

const commitDisplayLength = 7

// Short returns the display form of the commit.
func (c Commit) Short() string {
	if len(c) <= commitDisplayLength {
		return string(c)
	}
	return string(c[:commitDisplayLength])
}

func (c Commit) String() string { return string(c) }

// Remote identifies an upstream repository by URL or filesystem path.
type Remote struct {
	raw string
}

func NewRemote(raw string) Remote { return Remote{raw} }

func (r Remote) String() string { return r.raw }

// Canonical returns the deterministic form of the remote used for equality
// and hashing: the resolved real path for existing local directories, the
// trailing-slash-trimmed string otherwise.
func (r Remote) Canonical() string {
	if isDir(r.raw) {
		resolved, err := filepath.EvalSymlinks(r.raw)
		if err == nil {
			if abs, err := filepath.Abs(resolved); err == nil {
				return abs
			}
		}
	}
	trimmed := strings.TrimRight(r.raw, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

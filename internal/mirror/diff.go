package mirror

import (
	"fmt"
	"os"
	"strings"

	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// Patches produced by the backend describe the source path inside the cache
// slot; before applying them to the downstream tree the headers are
// rewritten so that both sides point at the target path.

func splitKeepEnds(patch string) []string {
	lines := strings.SplitAfter(patch, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func patchHeader(target typedpath.RelFile) string {
	return fmt.Sprintf("diff --git a/%s b/%s\n", target, target)
}

func patchAddition(target typedpath.RelFile) string {
	return "+++ b/" + target.String() + "\n"
}

func patchEmptyDeletion() string {
	return "--- " + os.DevNull + "\n"
}

// emptyPatch registers the target path with apply even though there is no
// hunk to apply.
func emptyPatch(body []string, target typedpath.RelFile) string {
	lines := make([]string, 0, len(body)+3)
	lines = append(lines, patchHeader(target))
	lines = append(lines, body...)
	lines = append(lines, patchAddition(target), patchEmptyDeletion())
	return strings.Join(lines, "")
}

// newFilePatch rewrites a diff-to-devnull patch so that the addition side
// refers to the target path. The deletion side already refers to /dev/null.
func newFilePatch(raw string, target typedpath.RelFile) string {
	lines := splitKeepEnds(raw)
	if len(lines) == 0 {
		return emptyPatch(nil, target)
	}
	lines = lines[1:]
	hunk := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "+++") {
			lines[i] = patchAddition(target)
		} else if strings.HasPrefix(line, "@@") {
			hunk = i
			break
		}
	}
	if hunk < 0 {
		return emptyPatch(lines, target)
	}
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, "new file mode") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "")
}

// fromCommitPatch rewrites a diff-from-commit patch so that both header
// sides point at the target path, under a synthesised diff --git header.
// The index line is kept so three-way apply can locate the ancestor blob.
func fromCommitPatch(raw string, target typedpath.RelFile) string {
	lines := splitKeepEnds(raw)
	if len(lines) == 0 {
		return emptyPatch(nil, target)
	}
	lines = lines[1:]
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"):
			lines[i] = "--- a/" + target.String() + "\n"
		case strings.HasPrefix(line, "+++"):
			lines[i] = patchAddition(target)
		case strings.HasPrefix(line, "@@"):
			return patchHeader(target) + strings.Join(lines, "")
		}
	}
	return emptyPatch(lines, target)
}

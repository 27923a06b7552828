package mirror

import (
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// File names one mirrored file: source inside the upstream, target inside
// the downstream.
type File struct {
	Source typedpath.RelFile
	Target typedpath.RelFile
}

// VersionedFile pairs a File with the upstream commit the downstream
// currently reflects for it. An empty commit means the file has never been
// mirrored.
type VersionedFile struct {
	File
	Commit typedpath.Commit
}

func fileFromSpec(spec manifest.FileSpec) File {
	return File{Source: spec.Source, Target: spec.Target}
}

package manager

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/manifest"
	"github.com/George-Ogden/mirror-rorrim/internal/mirror"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

// Installer sets up a downstream repository for the first time. The manifest
// may live on disk or inside a remote repository (--config-repo), in which
// case it is fetched into a cache slot first and copied into the downstream.
type Installer struct {
	Manager

	// ConfigPath is the manifest path: on disk, or relative to the remote
	// root when ConfigRepo is set.
	ConfigPath string
	// ConfigRepo is the remote holding the manifest, empty for a local one.
	ConfigRepo string
}

// Install performs the first-time setup: clone sources, copy files, record
// the lock. A failure deletes the partial lock so that install can be
// retried.
func (i *Installer) Install(ctx context.Context) error {
	if err := i.EnsureRepository(ctx); err != nil {
		return err
	}
	sourceRepo, manifestPath, err := i.fetchManifest(ctx)
	if err != nil {
		return err
	}
	config, err := manifest.ParseFile(manifestPath.String())
	if err != nil {
		return err
	}
	lock, err := flock.Create(i.LockFile())
	if err != nil {
		return err
	}
	mir := mirror.New(config, nil, i.CacheRoot, i.Semaphores)
	phase := func() error {
		if err := mir.CheckoutAll(ctx); err != nil {
			return err
		}
		if err := i.copyManifest(ctx, manifestPath); err != nil {
			return err
		}
		if sourceRepo != nil {
			if err := sourceRepo.Update(ctx, i.Target); err != nil {
				return err
			}
		}
		if err := mir.UpdateAll(ctx, i.Target); err != nil {
			return err
		}
		i.warnSelfReferential(ctx, config)
		return nil
	}
	return i.run(ctx, lock, mir, false, phase)
}

// fetchManifest resolves the manifest location. With a remote source the
// manifest's repo is checked out first and the manifest is read from its
// cache slot; the synthetic repo also mirrors the manifest itself into the
// downstream as .mirror.yaml.
func (i *Installer) fetchManifest(ctx context.Context) (*mirror.Repo, typedpath.AbsFile, error) {
	if i.ConfigRepo == "" {
		path := i.ConfigPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(i.Target.String(), path)
		}
		file, err := typedpath.NewAbsFile(path)
		return nil, file, err
	}
	relPath := strings.TrimPrefix(i.ConfigPath, "/")
	source, err := typedpath.NewRelFile(relPath)
	if err != nil {
		return nil, typedpath.AbsFile{}, err
	}
	spec := manifest.RepoSpec{
		Source: typedpath.NewRemote(i.ConfigRepo),
		Files:  []manifest.FileSpec{{Source: source, Target: MirrorFile}},
	}
	repo := mirror.NewRepo(spec, nil, i.CacheRoot, i.Semaphores)
	done := logging.Describe(ctx, slog.LevelInfo, "Fetching config")
	err = repo.Checkout(ctx)
	done(err)
	if err != nil {
		return nil, typedpath.AbsFile{}, err
	}
	return repo, repo.Slot().JoinFile(source), nil
}

// copyManifest places the parsed manifest at the downstream's .mirror.yaml
// when it came from elsewhere, warning when an existing manifest is
// overwritten.
func (i *Installer) copyManifest(ctx context.Context, source typedpath.AbsFile) error {
	target := i.ManifestFile()
	if sameFile(source.String(), target.String()) {
		return nil
	}
	existed := target.Exists()
	data, err := os.ReadFile(source.String())
	if err != nil {
		return errors.Wrapf(err, "read manifest %s", source)
	}
	if err := os.WriteFile(target.String(), data, 0o644); err != nil {
		return errors.Wrapf(err, "copy manifest to %s", target)
	}
	if existed {
		logging.FromContext(ctx).WarnContext(ctx,
			MirrorFile.String()+" has been overwritten during installation.")
	}
	return nil
}

// warnSelfReferential recommends a re-run when the manifest mirrors itself:
// the files were updated against the manifest as parsed before it was
// overwritten.
func (i *Installer) warnSelfReferential(ctx context.Context, config *manifest.Config) {
	manifestCanonical := MirrorFile.Canonical()
	for _, repo := range config.Repos {
		for _, file := range repo.Files {
			if file.Target.Canonical() == manifestCanonical {
				logging.FromContext(ctx).WarnContext(ctx,
					MirrorFile.String()+" has been updated during installation; re-run to finish.")
				return
			}
		}
	}
}

func sameFile(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"

	"github.com/George-Ogden/mirror-rorrim/internal/cachedir"
	"github.com/George-Ogden/mirror-rorrim/internal/config"
	"github.com/George-Ogden/mirror-rorrim/internal/flock"
	"github.com/George-Ogden/mirror-rorrim/internal/logging"
	"github.com/George-Ogden/mirror-rorrim/internal/manager"
	"github.com/George-Ogden/mirror-rorrim/internal/typedpath"
)

type CLI struct {
	Verbose  int    `short:"v" type:"counter" help:"Display more output (repeat up to 2 times)."`
	Quiet    int    `short:"q" type:"counter" help:"Display less output (repeat up to 3 times)."`
	JSON     bool   `help:"Output logs in JSON format."`
	Settings string `help:"Path to the settings file." env:"MIRROR_SETTINGS" placeholder:"FILE"`

	Install InstallCmd `cmd:"" help:"Set up mirror for the first time in the current directory."`
	Check   CheckCmd   `cmd:"" help:"Check whether mirrored files are up to date with their remotes."`
	Sync    SyncCmd    `cmd:"" help:"Sync mirrored files with their remotes."`
}

type InstallCmd struct {
	Config     string `short:"c" default:".mirror.yaml" help:"Path to the manifest file."`
	ConfigRepo string `short:"C" help:"Remote repository to source the manifest from."`
}

type CheckCmd struct {
	PreCommit bool `help:"Print a hint to run sync when out of date."`
}

type SyncCmd struct{}

// app carries what every subcommand needs, bound into kong.
type app struct {
	ctx      context.Context
	manager  manager.Manager
	exitCode int
}

func (c *InstallCmd) Run(a *app) error {
	installer := &manager.Installer{
		Manager:    a.manager,
		ConfigPath: c.Config,
		ConfigRepo: c.ConfigRepo,
	}
	return installer.Install(a.ctx)
}

func (c *CheckCmd) Run(a *app) error {
	checker := &manager.Checker{Manager: a.manager}
	code, err := checker.Check(a.ctx)
	a.exitCode = code
	if err == nil && code != 0 && c.PreCommit {
		logging.FromContext(a.ctx).Error("mirror config files are not up to date; run `mirror sync` to update.")
	}
	return err
}

func (c *SyncCmd) Run(a *app) error {
	syncer := &manager.Syncer{Manager: a.manager}
	return syncer.Sync(a.ctx)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.DefaultEnvars("MIRROR"))

	settings, err := config.Load(cli.Settings)
	kctx.FatalIfErrorf(err)

	logConfig := settings.Log
	logConfig.Level = logging.LevelFromVerbosity(cli.Quiet, cli.Verbose)
	if cli.JSON {
		logConfig.JSON = true
	}
	logger, ctx := logging.Configure(context.Background(), logConfig)

	cacheRoot, err := cachedir.Root(settings.CacheRoot)
	kctx.FatalIfErrorf(err)

	target, err := typedpath.Cwd()
	kctx.FatalIfErrorf(err)

	semaphores := flock.NewTable()
	defer semaphores.ReleaseAll()

	a := &app{
		ctx: ctx,
		manager: manager.Manager{
			Target:     target,
			CacheRoot:  cacheRoot,
			Semaphores: semaphores,
		},
	}
	if err := kctx.Run(a); err != nil {
		logger.Error(err.Error())
		semaphores.ReleaseAll()
		os.Exit(1)
	}
	if a.exitCode != 0 {
		semaphores.ReleaseAll()
		os.Exit(a.exitCode)
	}
}

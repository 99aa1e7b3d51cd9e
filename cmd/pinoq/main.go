// Command pinoq is the command-line driver: it parses arguments,
// loads the mount configuration, and dispatches to one of mkfs,
// inspect, or mount.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq"
	"github.com/pinoq/pinoq/internal/config"
	"github.com/pinoq/pinoq/internal/fusebridge"
	"github.com/pinoq/pinoq/internal/volume"
)

var log = logrus.New()

func init() {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		log.SetFormatter(&logrus.TextFormatter{ForceColors: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}

var subcommands = map[string]func(args []string) error{
	"mkfs":    mkfsCmd,
	"inspect": inspectCmd,
	"mount":   mountCmd,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: pinoq <mkfs|inspect|mount> [args...]")
		os.Exit(1)
	}
	cmd, ok := subcommands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "pinoq: unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
	if err := cmd(os.Args[2:]); err != nil {
		log.WithError(err).Error("pinoq: failed")
		os.Exit(1)
	}
}

func mkfsCmd(args []string) error {
	fset := flag.NewFlagSet("mkfs", flag.ExitOnError)
	var (
		aspects  = fset.Uint("aspects", 1, "number of aspects to create")
		blocks   = fset.Uint("blocks", 4096, "number of blocks per aspect")
		path     = fset.String("disk", "", "path to the new volume (must not already exist)")
		password = fset.String("password", "", "password sealing every created aspect")
	)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *path == "" || *password == "" {
		return xerrors.New("mkfs: -disk and -password are required")
	}

	log.WithFields(logrus.Fields{"disk": *path, "aspects": *aspects, "blocks": *blocks}).Info("creating volume")
	if err := volume.Mkfs(*path, uint32(*aspects), uint32(*blocks), *password); err != nil {
		return xerrors.Errorf("mkfs: %w", err)
	}
	return nil
}

func inspectCmd(args []string) error {
	fset := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return xerrors.New("inspect: syntax: pinoq inspect <path>")
	}
	path := fset.Arg(0)

	sb, err := volume.Inspect(path)
	if err != nil {
		return xerrors.Errorf("inspect: %w", err)
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
		"path":    path,
		"magic":   fmt.Sprintf("0x%08X", sb.Magic),
		"aspects": sb.Aspects,
		"blocks":  sb.Blocks,
	})
}

func mountCmd(args []string) error {
	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	debug := fset.Bool("debug", false, "raise the log level to debug and trace every FUSE op to stderr")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return xerrors.New("mount: syntax: pinoq mount <config.toml>")
	}
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(fset.Arg(0))
	if err != nil {
		return xerrors.Errorf("mount: %w", err)
	}

	log.WithFields(logrus.Fields{
		"disk":   cfg.Disk,
		"mount":  cfg.Mount,
		"aspect": cfg.Current.Aspect,
	}).Info("mounting")

	mounted, err := volume.Mount(cfg.Disk, cfg.Current.Aspect, cfg.Current.Password)
	if err != nil {
		return xerrors.Errorf("mount: %w", err)
	}
	pinoq.RegisterAtExit(mounted.Close)
	defer func() {
		if err := pinoq.RunAtExit(); err != nil {
			log.WithError(err).Warn("mount: cleanup failed")
		}
	}()

	ctx, cancel := pinoq.InterruptibleContext()
	defer cancel()

	var debugLogger *stdlog.Logger
	if *debug {
		debugLogger = stdlog.New(os.Stderr, "[fuse debug] ", stdlog.LstdFlags)
	}

	bridge := fusebridge.New(mounted.FS)
	if err := fusebridge.Serve(ctx, cfg.Mount, bridge, debugLogger); err != nil {
		return xerrors.Errorf("mount: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v3"

	"jroll/internal/config"
	"jroll/internal/deploy"
	"jroll/internal/jail"
	"jroll/internal/jlog"
	"jroll/internal/keys"
	"jroll/internal/lock"
	"jroll/internal/resolve"
	"jroll/internal/restart"
	"jroll/internal/show"
	"jroll/internal/sshexec"
)

func main() {
	var configPath string
	var verbose bool

	cmd := &cli.Command{
		Name:  "jroll",
		Usage: "blue/green ZFS jail deployment engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to configuration yaml file",
				Value:       "jroll.yml",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "enable debug logging",
				Destination: &verbose,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "deploy",
				Usage:     "send and roll out a new snapshot to the inactive group",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "deploy into this group, bypassing resolution"},
					&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "log actions without mutating remote state"},
					&cli.BoolFlag{Name: "sweep", Aliases: []string{"w", "s"}, Usage: "force old-snapshot garbage collection this run"},
					&cli.BoolFlag{Name: "no-sweep", Aliases: []string{"W"}, Usage: "suppress old-snapshot garbage collection this run"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					project := cmd.Args().First()
					if project == "" {
						return cli.Exit("deploy: <project> is required", 1)
					}

					release, err := lock.Acquire(os.TempDir(), project)
					if err != nil {
						return fmt.Errorf("deploy: %w", err)
					}
					defer release()

					engine, err := buildDeployEngine(configPath, verbose)
					if err != nil {
						return err
					}

					opts := deploy.Options{
						Group:   cmd.String("group"),
						DryRun:  cmd.Bool("dry-run"),
						Sweep:   cmd.Bool("sweep"),
						NoSweep: cmd.Bool("no-sweep"),
					}
					return engine.Deploy(ctx, project, opts)
				},
			},
			{
				Name:      "restart",
				Usage:     "stop, refresh, and start a cohort in place",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Aliases: []string{"a"}, Usage: "restart the active group instead of the inactive one"},
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "restart this group, bypassing resolution"},
					&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "log actions without mutating remote state"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					project := cmd.Args().First()
					if project == "" {
						return cli.Exit("restart: <project> is required", 1)
					}

					release, err := lock.Acquire(os.TempDir(), project)
					if err != nil {
						return fmt.Errorf("restart: %w", err)
					}
					defer release()

					engine, err := buildRestartEngine(configPath, verbose)
					if err != nil {
						return err
					}

					opts := restart.Options{
						Active: cmd.Bool("active"),
						Group:  cmd.String("group"),
						DryRun: cmd.Bool("dry-run"),
					}
					return engine.Restart(ctx, project, opts)
				},
			},
			{
				Name:  "genkey",
				Usage: "generate an age key pair for dump-in-transit encryption",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return keys.Generate(ctx)
				},
			},
			{
				Name:      "test-keys",
				Usage:     "verify a private identity matches a project's configured recipient",
				ArgsUsage: "<project>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "private-key", Usage: "path to age private identity file", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					project := cmd.Args().First()
					if project == "" {
						return cli.Exit("test-keys: <project> is required", 1)
					}
					return keys.Test(ctx, configPath, project, cmd.String("private-key"))
				},
			},
			{
				Name:      "show",
				Usage:     "report per-project group and member status",
				ArgsUsage: "[project...]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					engine, err := buildShowEngine(configPath, verbose)
					if err != nil {
						return err
					}

					reports, err := engine.Show(ctx, cmd.Args().Slice())
					if err != nil {
						return err
					}
					printShow(reports)
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("jroll failed", "error", err)
		os.Exit(1)
	}
}

func buildDeployEngine(configPath string, verbose bool) (*deploy.Engine, error) {
	cfg, exec, copier, log, username, pid, err := buildCommon(configPath, verbose)
	if err != nil {
		return nil, err
	}
	return &deploy.Engine{
		Config:   cfg,
		Inspect:  jail.New(exec),
		Resolve:  resolve.New(),
		Exec:     exec,
		Copy:     copier,
		Log:      log,
		Progname: "jroll",
		Username: username,
		Pid:      pid,
	}, nil
}

func buildRestartEngine(configPath string, verbose bool) (*restart.Engine, error) {
	cfg, exec, copier, log, username, pid, err := buildCommon(configPath, verbose)
	if err != nil {
		return nil, err
	}
	return &restart.Engine{
		Config:   cfg,
		Inspect:  jail.New(exec),
		Resolve:  resolve.New(),
		Exec:     exec,
		Copy:     copier,
		Log:      log,
		Username: username,
		Pid:      pid,
	}, nil
}

func buildShowEngine(configPath string, verbose bool) (*show.Engine, error) {
	cfg, exec, _, _, _, _, err := buildCommon(configPath, verbose)
	if err != nil {
		return nil, err
	}
	return &show.Engine{
		Config:  cfg,
		Inspect: jail.New(exec),
	}, nil
}

func buildCommon(configPath string, verbose bool) (*config.Config, *sshexec.Client, *sshexec.Client, *slog.Logger, string, int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, "", 0, err
	}

	client := sshexec.NewClient(os.Getenv("JROLL_SSH_USER"), os.Getenv("JROLL_SSH_KEY"))
	log := jlog.New(os.Stderr, verbose)

	username := "jroll"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}

	return cfg, client, client, log, username, os.Getpid(), nil
}

func printShow(reports []show.ProjectStatus) {
	for _, r := range reports {
		fmt.Printf("%s  inactive=%s\n", r.Name, r.ConfiguredValue)
		for _, g := range r.Groups {
			state := "active"
			if g.Inactive {
				state = "inactive"
			}
			fmt.Printf("  %s [%s]\n", g.Name, state)
			for _, m := range g.Members {
				fmt.Printf("    %-20s running=%s\n", m.ID, strconv.FormatBool(m.Running))
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/config"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/report"
)

// errDeployFailed is returned after the failure report has been printed.
var errDeployFailed = errors.New("deploy failed")

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "sitepublish",
		Usage:       "Deploy a built static site, uploading only what the host lacks",
		Description: "The host is selected with SITEPUBLISH_API_URL or SITEPUBLISH_BUCKET_TYPE.",
		Writer:      stdout,
		ErrWriter:   stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log debug output"},
		},
		Commands: []*cli.Command{
			deployCmd(),
			scanCmd(),
		},
	}
}

func deployCmd() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Deploy a directory to a site",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "Directory holding the built site", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Site name (defaults to name in sitepublish.yaml)"},
			&cli.StringFlag{Name: "custom-domain", Usage: "Custom domain requested when the site is created"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "Glob pattern to leave out (repeatable)"},
			&cli.IntFlag{Name: "concurrency", Usage: "Parallel uploads (default SITEPUBLISH_MAX_CONCURRENCY)"},
			&cli.DurationFlag{Name: "poll-interval", Usage: "Initial wait between status polls (default SITEPUBLISH_POLL_INTERVAL)"},
			&cli.DurationFlag{Name: "max-wait", Usage: "How long to wait for the deploy to go live (default SITEPUBLISH_MAX_WAIT)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := config.Load()
			if err != nil {
				return err
			}
			stdout, stderr := cmd.Root().Writer, cmd.Root().ErrWriter
			logger := newLogger(stderr, env.LogJSON, cmd.Root().Bool("verbose"))

			b, err := bundle.ScanDir(cmd.String("dir"), bundle.ScanOptions{Exclude: cmd.StringSlice("exclude")})
			if err != nil {
				return err
			}

			site := deploy.SiteConfig{Name: cmd.String("name"), CustomDomain: cmd.String("custom-domain")}
			if site.Name == "" {
				site.Name = b.Site.Name
			}
			if site.Name == "" {
				return fmt.Errorf("--name is required when %s does not set name", bundle.SiteFileName)
			}
			if site.CustomDomain == "" {
				site.CustomDomain = b.Site.CustomDomain
			}

			host, err := newHost(ctx, env)
			if err != nil {
				return err
			}

			opts := []deploy.Option{
				deploy.WithConcurrency(env.Deploy.MaxConcurrency),
				deploy.WithPollInterval(env.Deploy.PollInterval),
				deploy.WithMaxWait(env.Deploy.MaxWait),
			}
			if cmd.IsSet("concurrency") {
				opts = append(opts, deploy.WithConcurrency(int(cmd.Int("concurrency"))))
			}
			if cmd.IsSet("poll-interval") {
				opts = append(opts, deploy.WithPollInterval(cmd.Duration("poll-interval")))
			}
			if cmd.IsSet("max-wait") {
				opts = append(opts, deploy.WithMaxWait(cmd.Duration("max-wait")))
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("deploying",
				"site", site.Name,
				"dir", b.Root,
				"files", b.Files.Len(),
				"host", env.HostKind(),
			)

			result, err := deploy.NewOrchestrator(host, nil, nil, nil, opts...).Deploy(ctx, b.Files, site)
			if err != nil {
				fmt.Fprint(stderr, report.Failure(err))
				logger.Debug("deploy error", "error", err)
				return errDeployFailed
			}

			logger.Info("deployed",
				"site", site.Name,
				"deploy_id", result.DeployID,
				"duration_ms", result.DurationMs(),
			)
			fmt.Fprint(stdout, report.Success(site.Name, result))
			return nil
		},
	}
}

func scanCmd() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Print the manifest a deploy of a directory would send",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "Directory holding the built site", Required: true},
			&cli.StringSliceFlag{Name: "exclude", Usage: "Glob pattern to leave out (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			b, err := bundle.ScanDir(cmd.String("dir"), bundle.ScanOptions{Exclude: cmd.StringSlice("exclude")})
			if err != nil {
				return err
			}
			m, err := manifest.NewBuilder().Build(b.Files)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.Root().Writer, report.Manifest(b.Files, m))
			return nil
		},
	}
}

func newLogger(w io.Writer, jsonOutput, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

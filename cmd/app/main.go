package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/spices/internal"
	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/harvester"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/mcpserver"
	"github.com/starford/spices/internal/models"
	pkgconfig "github.com/starford/spices/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// withServices runs fn against freshly opened harvesters. Logs go to
// stderr so command output stays readable.
func withServices(cmd *cli.Command, fn func(*internal.Services) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg.App.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	svc, err := internal.Open(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func harvesterFor(svc *internal.Services, cmd *cli.Command) (*harvester.Harvester, error) {
	kind, err := models.ParsePackageType(cmd.String("type"))
	if err != nil {
		return nil, err
	}
	h, ok := svc.Manager.Harvester(kind)
	if !ok {
		return nil, fmt.Errorf("package type %s is not enabled in the config", kind)
	}
	return h, nil
}

func printResult(res *installer.Result) {
	fmt.Printf("%s %s %s: %s -> %s\n", res.Action, res.Type, res.UUID, orNone(res.OldVersion), res.NewVersion)
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithRefreshOnStart(cmd.Bool("refresh")),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func refresh(ctx context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		reports, err := svc.Manager.RefreshAllCaches(ctx)
		for _, r := range reports {
			downloaded := 0
			if r.Assets != nil {
				downloaded = r.Assets.Downloaded
			}
			fmt.Printf("%-10s entries=%d previews=%d updates=%d errors=%d\n",
				r.Type, r.Entries, downloaded, r.Updates, len(r.Errors))
		}
		return err
	})
}

func listUpdates(_ context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		recs := svc.Manager.GetUpdates()
		if len(recs) == 0 {
			fmt.Println("Everything is up to date.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tUUID\tINSTALLED\tAVAILABLE\tSIZE")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Type, r.UUID, r.OldVersion, r.NewVersion, r.SizeHuman)
		}
		return tw.Flush()
	})
}

func install(ctx context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		h, err := harvesterFor(svc, cmd)
		if err != nil {
			return err
		}
		var res *installer.Result
		if folder := cmd.String("folder"); folder != "" {
			res, err = h.InstallFromFolder(ctx, folder)
		} else {
			uuid := cmd.Args().First()
			if uuid == "" {
				return errors.New("install: uuid or --folder is required")
			}
			res, err = h.Install(ctx, uuid)
		}
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

func uninstall(ctx context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		h, err := harvesterFor(svc, cmd)
		if err != nil {
			return err
		}
		uuid := cmd.Args().First()
		if uuid == "" {
			return errors.New("uninstall: uuid is required")
		}
		res, err := h.Uninstall(ctx, uuid)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

func upgrade(ctx context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		if cmd.Bool("all") {
			results, err := svc.Manager.UpgradeAll(ctx)
			for _, res := range results {
				printResult(res)
			}
			return err
		}
		h, err := harvesterFor(svc, cmd)
		if err != nil {
			return err
		}
		uuid := cmd.Args().First()
		if uuid == "" {
			return errors.New("upgrade: uuid or --all is required")
		}
		if !h.HasUpdate(uuid) {
			return apperr.New(apperr.KindNotFound, "upgrade", uuid, errors.New("no update available"))
		}
		res, err := h.Install(ctx, uuid)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	})
}

func search(_ context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		h, err := harvesterFor(svc, cmd)
		if err != nil {
			return err
		}
		results, err := h.Search(cmd.Args().First(), int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.UUID, r.Name, r.Snippet)
		}
		return tw.Flush()
	})
}

func runMCP(_ context.Context, cmd *cli.Command) error {
	return withServices(cmd, func(svc *internal.Services) error {
		return mcpserver.New(svc.Manager, svc.Activity).ServeStdio()
	})
}

func typeFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "type",
		Aliases:  []string{"t"},
		Usage:    "Package type: applet, desklet, extension or theme",
		Required: true,
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "spices",
		Usage:  "Keep Cinnamon applets, desklets, extensions and themes in sync with the spices catalog",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with live updates",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "refresh", Usage: "Refresh every cache on start"},
				},
			},
			{
				Name:   "refresh",
				Usage:  "Download the latest catalogs and previews",
				Action: refresh,
			},
			{
				Name:   "updates",
				Usage:  "List installed spices with a newer version",
				Action: listUpdates,
			},
			{
				Name:      "install",
				Usage:     "Install or reinstall a spice",
				ArgsUsage: "<uuid>",
				Action:    install,
				Flags: []cli.Flag{
					typeFlag(),
					&cli.StringFlag{Name: "folder", Usage: "Install from a local directory instead of the catalog"},
				},
			},
			{
				Name:      "uninstall",
				Usage:     "Remove an installed spice",
				ArgsUsage: "<uuid>",
				Action:    uninstall,
				Flags:     []cli.Flag{typeFlag()},
			},
			{
				Name:      "upgrade",
				Usage:     "Upgrade one spice, or all with --all",
				ArgsUsage: "[uuid]",
				Action:    upgrade,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Package type of uuid"},
					&cli.BoolFlag{Name: "all", Usage: "Upgrade every spice with an update"},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the catalog",
				ArgsUsage: "<query>",
				Action:    search,
				Flags: []cli.Flag{
					typeFlag(),
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum results"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the harvester over MCP on stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error",
			slog.String("error", err.Error()),
			slog.String("error_kind", string(apperr.KindOf(err))))
		os.Exit(1)
	}
}

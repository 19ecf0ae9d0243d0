package main

import (
	"fmt"
	"io"
	"os"

	"github.com/common-nighthawk/go-figure"
	devapp "github.com/fxnlabs/devinfo/internal/app"
	"github.com/fxnlabs/devinfo/internal/config"
	"github.com/fxnlabs/devinfo/internal/gpu"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := newApp(os.Stdout, devapp.RuntimeDriver)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI; driver provides the gpu.Driver the introspector queries.
func newApp(w io.Writer, driver fx.Option) *cli.App {
	var graph *fx.App

	return &cli.App{
		Name:     "devinfo",
		Usage:    "Inspect CUDA device capabilities and the linked runtime",
		Writer:   w,
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"DEVINFO_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "banner",
				Usage: "Print a banner before the output",
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Default()
			if path := c.String("config"); path != "" {
				var err error
				cfg, err = config.LoadConfig(path)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}

			var in *gpu.Introspector
			var log *zap.Logger
			app := fx.New(
				fx.NopLogger,
				fx.Supply(cfg),
				driver,
				devapp.Module,
				fx.Populate(&in, &log),
			)
			if err := app.Err(); err != nil {
				return err
			}
			if err := app.Start(c.Context); err != nil {
				return err
			}
			graph = app
			c.App.Metadata["introspector"] = in
			c.App.Metadata["logger"] = log.Named("cli")

			if c.Bool("banner") {
				fmt.Fprintln(c.App.Writer, figure.NewFigure("devinfo", "", true).String())
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if graph == nil {
				return nil
			}
			return graph.Stop(c.Context)
		},
		Commands: []*cli.Command{
			devicesCommand(),
			includeDirCommand(),
			versionCommand(),
			initConfigCommand(),
		},
	}
}

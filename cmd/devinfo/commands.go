package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/fxnlabs/devinfo/fixtures"
	"github.com/fxnlabs/devinfo/internal/gpu"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func introspector(c *cli.Context) *gpu.Introspector {
	return c.App.Metadata["introspector"].(*gpu.Introspector)
}

func logger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Show the capabilities of visible devices",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "device",
				Usage: "Only show device `N`",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print JSON instead of a table",
			},
		},
		Action: func(c *cli.Context) error {
			in := introspector(c)

			var devices []gpu.Device
			if c.IsSet("device") {
				devices = append(devices, gpu.Ordinal(c.Int("device")))
			} else {
				count, err := in.DeviceCount()
				if err != nil {
					return err
				}
				for i := 0; i < count; i++ {
					devices = append(devices, gpu.Ordinal(i))
				}
			}

			infos := make([]gpu.DeviceInfo, 0, len(devices))
			for _, d := range devices {
				info, err := in.Snapshot(d)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			logger(c).Debug("collected device snapshots", zap.Int("devices", len(infos)))

			if c.Bool("json") {
				enc := json.NewEncoder(c.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			if len(infos) == 0 {
				fmt.Fprintln(c.App.Writer, "No CUDA devices visible")
				return nil
			}
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tCOMPUTE\tSMS\tPRIORITY LOW/HIGH\tMULTICAST")
			for _, info := range infos {
				major, minor := gpu.SplitComputeCapability(info.ComputeCapability)
				fmt.Fprintf(tw, "%d\t%d.%d\t%d\t%d/%d\t%t\n",
					info.Ordinal, major, minor, info.Multiprocessors,
					info.StreamPriorities.Low, info.StreamPriorities.High, info.Multicast)
			}
			return tw.Flush()
		},
	}
}

func includeDirCommand() *cli.Command {
	return &cli.Command{
		Name:  "include-dir",
		Usage: "Print the CUDA toolkit header directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "required",
				Usage: "Fail when no directory is found",
			},
		},
		Action: func(c *cli.Context) error {
			path, err := introspector(c).IncludeDirectory(c.Bool("required"))
			if err != nil {
				return err
			}
			if path == "" {
				logger(c).Warn("CUDA toolkit headers not found")
				return nil
			}
			fmt.Fprintln(c.App.Writer, path)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the linked CUDA runtime version",
		Action: func(c *cli.Context) error {
			v, err := introspector(c).RuntimeVersion()
			if err != nil {
				return err
			}
			major, minor := gpu.SplitRuntimeVersion(v)
			fmt.Fprintf(c.App.Writer, "CUDA runtime %d.%d (%d)\n", major, minor, v)
			return nil
		},
	}
}

func initConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-config",
		Usage: "Write the default configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Value: "devinfo.yaml",
				Usage: "Write the configuration to `FILE`",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing file",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.String("path")
			if !c.Bool("force") {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0644); err != nil {
				return err
			}
			logger(c).Info("wrote configuration", zap.String("path", path))
			return nil
		},
	}
}

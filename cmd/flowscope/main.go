package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/harekrishnarai/flowscope/pkg/config"
	"github.com/harekrishnarai/flowscope/pkg/constants"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/policies"
)

var version = constants.AppVersion

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := newApp()
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		printError(err)
		os.Exit(2)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    constants.AppName,
		Version: version,
		Usage:   "Reachability-aware CI/CD workflow analyzer",
		Commands: []*cli.Command{
			scanCommand(),
			{
				Name:      "init-config",
				Usage:     "Write a default configuration file",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: initConfig,
			},
			{
				Name:      "init-policy",
				Usage:     "Create an example policy file",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					outputPath := c.Args().First()
					if outputPath == "" {
						outputPath = "policies/example.rego"
					}

					if err := policies.CreateExamplePolicy(outputPath); err != nil {
						return flowerrors.NewPolicyError("Failed to create example policy", err, outputPath)
					}
					fmt.Fprintf(c.App.Writer, "Example policy written to %s\n", outputPath)
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(c *cli.Context) error {
					color.New(color.FgHiCyan, color.Bold).Fprintf(c.App.Writer, "%s ", constants.AppName)
					fmt.Fprintf(c.App.Writer, "v%s\n", version)
					return nil
				},
			},
		},
	}
}

func initConfig(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = ".flowscope.yml"
	}

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return flowerrors.NewConfigError(fmt.Sprintf("Configuration file already exists: %s", path), nil,
			"Pass --force to overwrite it")
	}

	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", path)
	return nil
}

// printError writes the error with its suggestions to stderr
func printError(err error) {
	red := color.New(color.FgHiRed, color.Bold)

	var fe *flowerrors.FlowscopeError
	if errors.As(err, &fe) {
		red.Fprintln(os.Stderr, fe.UserFriendlyMessage())
		return
	}
	red.Fprintf(os.Stderr, "Error: %v\n", err)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/harekrishnarai/flowscope/pkg/concurrent"
	"github.com/harekrishnarai/flowscope/pkg/config"
	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/engine"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/hosting"
	"github.com/harekrishnarai/flowscope/pkg/logging"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/policies"
	"github.com/harekrishnarai/flowscope/pkg/report"
	"github.com/harekrishnarai/flowscope/pkg/rules"
	"github.com/harekrishnarai/flowscope/pkg/secrets"
	"github.com/harekrishnarai/flowscope/pkg/validation"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Analyze workflow documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Local repository path to scan",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Path to a single workflow file to scan",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path (.flowscope.yml)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format (cli, json, markdown, sarif)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Output file path (if not specified, prints to stdout)",
			},
			&cli.StringFlag{
				Name:  "min-severity",
				Usage: "Minimum effective severity to report (info, warning, error)",
			},
			&cli.StringSliceFlag{
				Name:    "policy",
				Aliases: []string{"p"},
				Usage:   "Rego policy file or directory (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "hide-unreachable",
				Usage: "Drop findings that no trigger can reach",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Maximum documents analyzed in parallel (0 uses all CPUs)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Time budget per document",
			},
			&cli.StringFlag{
				Name:  "repo-url",
				Usage: "Hosted repository URL used for deep links (GitHub or GitLab)",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Debug logging, evidence and job graphs in the report",
			},
			&cli.BoolFlag{
				Name:  "no-fail",
				Usage: "Exit 0 even when error findings remain",
			},
		},
		Action: scan,
	}
}

func scan(c *cli.Context) error {
	startTime := time.Now()
	ctx := c.Context
	verbose := c.Bool("verbose")

	if verbose {
		logging.Setup("debug")
	} else {
		logging.Setup("warn")
	}
	log := logging.WithComponent("cli")

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyScanFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	repoPath, filePath := c.String("repo"), c.String("file")
	if err := validation.NewValidator().ValidateScanInputs(validation.ScanInputs{
		RepoPath:      repoPath,
		FilePath:      filePath,
		OutputFile:    cfg.Output.File,
		RepositoryURL: cfg.Hosting.RepositoryURL,
	}); err != nil {
		return err
	}

	documents, err := loadDocuments(repoPath, filePath, cfg.Analysis.ExcludePaths, log)
	if err != nil {
		return err
	}
	log.Debug("documents loaded", slog.Int("count", len(documents)))

	ruleSet, err := buildRules(cfg)
	if err != nil {
		return err
	}
	policyEngine, err := loadPolicies(ctx, c.StringSlice("policy"))
	if err != nil {
		return err
	}

	minSeverity, _ := rules.ParseSeverity(cfg.Output.MinSeverity)
	analyzer := engine.NewAnalyzer(engine.AnalyzerConfig{
		TrustedPublishers: cfg.Analysis.TrustedPublishers,
		HideUnreachable:   cfg.Analysis.HideUnreachable,
		MinSeverity:       minSeverity,
	})
	scanner := engine.NewScanner(analyzer, rules.NewRuleEngine(cfg), ruleSet, policyEngine)

	var progress io.Writer
	if verbose && cfg.Output.Format == constants.OutputFormatCLI {
		progress = os.Stderr
	}
	processor := concurrent.NewProcessor(scanner, &concurrent.ProcessorConfig{
		MaxWorkers:      cfg.Analysis.MaxWorkers,
		DocumentTimeout: cfg.Analysis.DocumentTimeout,
		TotalTimeout:    cfg.Analysis.TotalTimeout,
		Progress:        progress,
	})

	results, err := processor.Process(ctx, documents)
	if err != nil {
		// Partial results are still reported
		log.Warn("analysis incomplete", slog.String("error", err.Error()))
	}

	resolver, err := hosting.NewResolver(ctx, hosting.Options{
		RepositoryURL: cfg.Hosting.RepositoryURL,
		Ref:           cfg.Hosting.Ref,
		Root:          repoPath,
	})
	if err != nil {
		log.Warn("deep links disabled", slog.String("error", err.Error()))
		resolver = nil
	}

	result := report.NewScanResult(repositoryName(cfg, repoPath, filePath), results, len(ruleSet), startTime, resolver)

	generator := report.NewGenerator(result, cfg.Output.Format, verbose, cfg.Output.File)
	generator.ShowRemediation = cfg.Output.ShowRemediation
	generator.NoColor = c.Bool("no-color")
	generator.Out = c.App.Writer
	if err := generator.Generate(); err != nil {
		return err
	}
	if cfg.Output.File != "" {
		fmt.Fprintf(c.App.ErrWriter, "Report written to %s\n", cfg.Output.File)
	}

	if report.HasBlockingFindings(result) && !c.Bool("no-fail") {
		return cli.Exit("", 1)
	}
	return nil
}

// applyScanFlags overrides file configuration with flags that were set
func applyScanFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("output") {
		cfg.Output.Format = strings.ToLower(c.String("output"))
	}
	if c.IsSet("output-file") {
		cfg.Output.File = c.String("output-file")
	}
	if c.IsSet("min-severity") {
		cfg.Output.MinSeverity = c.String("min-severity")
	}
	if c.IsSet("hide-unreachable") {
		cfg.Analysis.HideUnreachable = c.Bool("hide-unreachable")
	}
	if c.IsSet("workers") {
		cfg.Analysis.MaxWorkers = c.Int("workers")
	}
	if c.IsSet("timeout") {
		cfg.Analysis.DocumentTimeout = c.Duration("timeout")
	}
	if c.IsSet("repo-url") {
		cfg.Hosting.RepositoryURL = c.String("repo-url")
	}
}

// loadDocuments reads either one workflow file or every workflow in a repository
func loadDocuments(repoPath, filePath string, exclude []string, log *slog.Logger) ([]parser.WorkflowFile, error) {
	switch {
	case filePath != "":
		docs, err := parser.LoadSingleWorkflow(filePath)
		if err != nil {
			return nil, flowerrors.NewWorkflowError("Failed to load workflow", err, filePath)
		}
		return docs, nil
	case repoPath != "":
		docs, err := parser.FindWorkflows(repoPath, exclude...)
		if len(docs) == 0 {
			if err == nil {
				return nil, flowerrors.ErrWorkflowNotFound(repoPath)
			}
			return nil, flowerrors.NewWorkflowError("No workflow could be loaded", err, repoPath)
		}
		if err != nil {
			log.Warn("skipping unparseable workflows", slog.String("error", err.Error()))
		}
		return docs, nil
	default:
		return nil, flowerrors.ErrNoInputSpecified()
	}
}

// buildRules assembles the built-in detectors and custom rules from config
func buildRules(cfg *config.Config) ([]rules.Rule, error) {
	ruleSet := engine.BuiltinRules(cfg.Analysis.TrustedPublishers, secrets.NewDetector())

	custom, err := config.LoadCustomRules(cfg)
	if err != nil {
		return nil, err
	}
	return append(ruleSet, custom...), nil
}

// loadPolicies compiles every rego file under the given paths. No paths
// means no policy engine.
func loadPolicies(ctx context.Context, paths []string) (*policies.PolicyEngine, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	var files []string
	for _, p := range paths {
		found, err := policies.LoadPolicyFiles(p)
		if err != nil {
			return nil, flowerrors.NewPolicyError("Failed to load policies", err, p)
		}
		files = append(files, found...)
	}

	return policies.NewPolicyEngine(ctx, files)
}

func repositoryName(cfg *config.Config, repoPath, filePath string) string {
	if cfg.Hosting.RepositoryURL != "" {
		return cfg.Hosting.RepositoryURL
	}
	target := repoPath
	if target == "" {
		target = filePath
	}
	if abs, err := filepath.Abs(target); err == nil {
		return abs
	}
	return target
}

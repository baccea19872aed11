// contractctl is the ContractVault admin tool. It reads the same
// environment and CONFIG_FILE as the server.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/contractvault/contractvault/internal/app"
	"github.com/contractvault/contractvault/internal/auth"
	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metadata/postgres"
)

var flagDebug = &cli.BoolFlag{
	Name:  "debug",
	Usage: "Log at debug level regardless of LOG_LEVEL",
}

var flagDryRun = &cli.BoolFlag{
	Name:  "dry-run",
	Usage: "Report orphans without removing them",
}

var flagGrace = &cli.DurationFlag{
	Name:  "grace",
	Usage: "Leave objects younger than this alone (default SWEEP_GRACE)",
}

var flagContract = &cli.Int64Flag{
	Name:  "contract",
	Usage: "Contract ID",
}

var flagVersion = &cli.IntFlag{
	Name:  "version",
	Usage: "Version number, 0 for the latest",
}

var flagFormat = &cli.StringFlag{
	Name:  "format",
	Value: "txt",
	Usage: "Export format: txt, html or original",
}

var flagOut = &cli.StringFlag{
	Name:  "out",
	Usage: "Output file (default: the exported file name)",
}

var flagUser = &cli.StringFlag{
	Name:     "user",
	Usage:    "User ID placed in the token subject",
	Required: true,
}

var flagTTL = &cli.DurationFlag{
	Name:  "ttl",
	Value: 24 * time.Hour,
	Usage: "Token lifetime",
}

var flagMigrationsDir = &cli.StringFlag{
	Name:  "dir",
	Usage: "Migrations directory (default: searched next to the binary)",
}

func main() {
	cliApp := &cli.App{
		Name:  "contractctl",
		Usage: "ContractVault administration",
		Flags: []cli.Flag{flagDebug},
		Commands: []*cli.Command{
			{
				Name:        "sweep",
				Usage:       "Remove stored objects that no version references",
				Description: "Lists every backend that supports listing and removes objects older than the grace period that no live version points at.",
				Flags:       []cli.Flag{flagDryRun, flagGrace},
				Action:      runSweep,
			},
			{
				Name:   "export",
				Usage:  "Write a contract version to a file",
				Flags:  []cli.Flag{flagContract, flagVersion, flagFormat, flagOut},
				Action: runExport,
			},
			{
				Name:      "search",
				Usage:     "Search the latest text of one or all contracts",
				Flags:     []cli.Flag{flagContract},
				ArgsUsage: "<keyword>",
				Action:    runSearch,
			},
			{
				Name:   "token",
				Usage:  "Sign a bearer token with JWT_SECRET for manual API calls",
				Flags:  []cli.Flag{flagUser, flagTTL},
				Action: runToken,
			},
			{
				Name:   "migrate",
				Usage:  "Apply SQL migrations to DATABASE_URL",
				Flags:  []cli.Flag{flagMigrationsDir},
				Action: runMigrate,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		return nil, err
	}
	if cCtx.Bool(flagDebug.Name) {
		logging.SetLevel("debug")
	}
	return cfg, nil
}

func openApp(cCtx *cli.Context) (*config.Config, *app.App, error) {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cCtx.Context, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, a, nil
}

func runSweep(cCtx *cli.Context) error {
	cfg, a, err := openApp(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	dryRun := cCtx.Bool(flagDryRun.Name)
	// Without a database every stored object looks unreferenced.
	if a.DB == nil && !dryRun {
		return errors.New("sweep needs DATABASE_URL; run with --dry-run to only list objects")
	}

	grace := cfg.SweepGrace
	if cCtx.IsSet(flagGrace.Name) {
		grace = cCtx.Duration(flagGrace.Name)
	}

	report, err := a.Sweep(cCtx.Context, grace, dryRun)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runExport(cCtx *cli.Context) error {
	if !cCtx.IsSet(flagContract.Name) {
		return errors.New("--contract is required")
	}
	_, a, err := openApp(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := a.Service.Export(cCtx.Context,
		cCtx.Int64(flagContract.Name),
		cCtx.Int(flagVersion.Name),
		cCtx.String(flagFormat.Name))
	if err != nil {
		return err
	}

	out := cCtx.String(flagOut.Name)
	if out == "" {
		out = exp.FileName
	}
	if out == "-" {
		_, err = os.Stdout.Write(exp.Data)
		return err
	}
	if err := os.WriteFile(out, exp.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes, %s)\n", out, len(exp.Data), exp.ContentType)
	return nil
}

func runSearch(cCtx *cli.Context) error {
	keyword := strings.Join(cCtx.Args().Slice(), " ")
	if keyword == "" {
		return errors.New("keyword argument is required")
	}
	_, a, err := openApp(cCtx)
	if err != nil {
		return err
	}
	defer a.Close()

	if cCtx.IsSet(flagContract.Name) {
		matches, err := a.Service.SearchWithinContract(cCtx.Context, cCtx.Int64(flagContract.Name), keyword)
		if err != nil {
			return err
		}
		return printJSON(matches)
	}
	matches, err := a.Service.SearchAllContracts(cCtx.Context, keyword)
	if err != nil {
		return err
	}
	return printJSON(matches)
}

func runMigrate(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	dir := cCtx.String(flagMigrationsDir.Name)
	if dir == "" {
		dir = app.FindMigrationsDir()
	}
	if dir == "" {
		return errors.New("no migrations directory found, pass --dir")
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(cCtx.Context); err != nil {
		return err
	}
	if err := db.Migrate(dir); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "migrations applied from %s\n", dir)
	return nil
}

func runToken(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	user := cCtx.String(flagUser.Name)
	tok, err := auth.New(cfg.JWTSecret).IssueToken(user, user, cCtx.Duration(flagTTL.Name))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

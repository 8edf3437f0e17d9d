/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/acronis/go-appkit/log"
	"github.com/spf13/cobra"

	"github.com/acronis/go-dbops"
	"github.com/acronis/go-dbops/internal/cli"
)

// app is the state shared by all commands of one invocation.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	lookupEnv func(string) (string, bool)

	cfgFile string
	envFile string
	verbose bool

	cfg         *cli.AppConfig
	cfgPath     string
	logger      log.FieldLogger
	closeLogger func()
}

func newApp(stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) *app {
	return &app{stdout: stdout, stderr: stderr, lookupEnv: lookupEnv, closeLogger: func() {}}
}

// Command group IDs
const (
	groupDatabase = "database"
	groupServices = "services"
	groupUtility  = "utility"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbops",
		Short: "Operations toolkit for the CRM/e-commerce backend",
		Long: `dbops - operations toolkit for the CRM/e-commerce backend

Applies SQL migrations over a direct database connection or the database service's RPC API,
probes tables for diagnostics, and inspects the commerce, AI and voice services.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	f := rootCmd.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file, YAML or JSON (default: ./"+cli.DefaultConfigFile+" if present)")
	f.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded at start; existing environment wins")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDatabase, Title: "Database:"},
		&cobra.Group{ID: groupServices, Title: "Services:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)
	for _, cmd := range []*cobra.Command{newApplyCmd(a), newApplyDirCmd(a), newProbeCmd(a)} {
		cmd.GroupID = groupDatabase
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{newCommerceCmd(a), newAICmd(a), newVoiceCmd(a)} {
		cmd.GroupID = groupServices
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{newConfigCmd(a), newVersionCmd(a)} {
		cmd.GroupID = groupUtility
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	envFileRequired := cmd.Flags().Changed("env-file")
	if err := cli.LoadEnvFile(a.envFile, envFileRequired); err != nil {
		return cli.ConfigError("loading env file", err)
	}

	var err error
	if a.cfg, a.cfgPath, err = cli.LoadConfig(a.cfgFile, a.lookupEnv); err != nil {
		return cli.ConfigError("loading configuration", err)
	}

	level := log.LevelInfo
	if a.verbose {
		level = log.LevelDebug
	}
	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Format: log.FormatText, Level: level})
	a.logger = logger
	a.closeLogger = func() { loggerClose() }
	if a.cfgPath != "" {
		a.logger.Debug("configuration loaded", log.String("path", a.cfgPath))
	}
	return nil
}

// openDB opens and pings the configured database.
func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	if !a.cfg.DB.HasCredentials() {
		return nil, cli.ConfigError("database connection is not configured (set db.url or "+cli.EnvDatabaseURL+")", nil)
	}
	db, err := dbops.Open(a.cfg.DB, false)
	if err != nil {
		return nil, cli.DBConnectError("opening database", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cli.DBConnectError("connecting to database", err)
	}
	a.logger.Debug("connected to database", log.String("dialect", string(a.cfg.DB.EffectiveDialect())))
	return db, nil
}

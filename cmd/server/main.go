package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/exoplanet-api/internal/config"
	"github.com/Brownie44l1/exoplanet-api/internal/logger"
	"github.com/Brownie44l1/exoplanet-api/internal/model"
)

func main() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exoplanet-api",
		Short:         "Exoplanet transit signal classification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "Include source locations in logs")

	serve := ServeCmd()
	root.AddCommand(serve, ScoreCmd())
	// No subcommand means serve.
	root.RunE = serve.RunE

	return root
}

// loadConfig reads the config file and environment, then applies logging flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		cfg.Log.Level = strings.ToLower(level)
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if cmd.Flags().Changed("log-source") {
		cfg.Log.Source, _ = cmd.Flags().GetBool("log-source")
	}
	if err := config.NewLoader().Validate(cfg); err != nil {
		return nil, err
	}

	resolveModelPaths(&cfg.Model)

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.JSON = cfg.Log.JSON
	logCfg.AddSource = cfg.Log.Source
	logCfg.Output = cmd.ErrOrStderr()
	logger.Init(logCfg)

	return cfg, nil
}

// resolveModelPaths anchors relative model paths at the project root when the
// binary is started from cmd/server.
func resolveModelPaths(m *config.ModelConfig) {
	wd, err := os.Getwd()
	if err != nil || filepath.Base(wd) != "server" {
		return
	}
	root := filepath.Join(wd, "..", "..")
	if !filepath.IsAbs(m.Path) {
		m.Path = filepath.Join(root, m.Path)
	}
	if !filepath.IsAbs(m.MetadataPath) {
		m.MetadataPath = filepath.Join(root, m.MetadataPath)
	}
}

func openModel(cfg *config.Config) (*model.Server, error) {
	logger.Info("Loading model", "path", cfg.Model.Path)
	srv, err := model.NewServer(cfg.Model.Path, cfg.Model.MetadataPath, cfg.Model.LibraryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model server: %w", err)
	}
	logger.Info("Model loaded", "classes", srv.Metadata.Classes, "features", srv.Metadata.Features)
	return srv, nil
}

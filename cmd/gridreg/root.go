package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gridreg/internal/blob"
	"gridreg/internal/catalog"
	"gridreg/internal/lock"
	"gridreg/internal/registry"
	"gridreg/internal/snapshot"
	"gridreg/pkg/domain"
)

var version = "dev"

// cliConfig is resolved from flags, the config file, and GRIDREG_* environment
// variables, in that precedence order.
type cliConfig struct {
	Base        string `mapstructure:"base"`
	Offline     bool   `mapstructure:"offline"`
	Verbose     bool   `mapstructure:"verbose"`
	SyncWorkers int    `mapstructure:"sync_workers"`
}

var (
	cfgFile   string
	cfg       cliConfig
	submitter string
)

var rootCmd = &cobra.Command{
	Use:   "gridreg",
	Short: "Versioned registry for energy-model projects, datasets, and dimensions",
	Long: `gridreg manages a versioned registry of energy-model entities: projects,
datasets, dimensions, and dimension mappings. Every registration is an
immutable snapshot; updates create new versions and prior versions stay
readable forever.

The registry lives under a base directory (--base). A derived catalog index
kept alongside it powers listing and name resolution and can be rebuilt from
the snapshots at any time with 'registry rebuild-index'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $HOME/.gridreg.yaml)")
	rootCmd.PersistentFlags().StringP("base", "b", "",
		"registry base directory (default: ./gridreg-data)")
	rootCmd.PersistentFlags().StringVar(&submitter, "submitter", currentUser(),
		"identity recorded on registrations and locks")
	rootCmd.PersistentFlags().Bool("offline", false,
		"skip remote sync in both directions")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"enable debug logging")

	_ = viper.BindPFlag("base", rootCmd.PersistentFlags().Lookup("base"))
	_ = viper.BindPFlag("offline", rootCmd.PersistentFlags().Lookup("offline"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetDefault("base", "./gridreg-data")
	viper.SetDefault("offline", false)
	viper.SetDefault("verbose", false)
	viper.SetDefault("sync_workers", 8)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".gridreg")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("GRIDREG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "warning: unreadable config file: %v\n", err)
		}
	}
	_ = viper.Unmarshal(&cfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session bundles the stores and service one command invocation works with.
type session struct {
	svc    *registry.Service
	local  blob.Store
	logger *slog.Logger
}

// newSession opens the local registry at the configured base. When verify is
// set the base must already hold an initialized registry.
func newSession(ctx context.Context, verify bool) (*session, error) {
	logger := newLogger()
	local, err := blob.NewFilesystem(cfg.Base)
	if err != nil {
		return nil, fmt.Errorf("open registry base %s: %w", cfg.Base, err)
	}
	cat, err := registry.OpenCatalogStoreAt(filepath.Join(cfg.Base, "catalog.db"), catalog.DefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	svc := registry.NewService(
		snapshot.New(local),
		lock.NewManager(local, submitter),
		cat,
		registry.WithLogger(logger),
	)
	if verify {
		if _, err := svc.Verify(ctx); err != nil {
			return nil, err
		}
	}
	return &session{svc: svc, local: local, logger: logger}, nil
}

// openRemote builds the remote blob store for sync from GRIDREG_BLOB_DRIVER
// and its driver-specific variables. Sync without a configured remote is an
// error rather than a silent mirror onto a default local path.
func openRemote(ctx context.Context) (blob.Store, error) {
	if os.Getenv("GRIDREG_BLOB_DRIVER") == "" {
		return nil, fmt.Errorf("no remote configured: set GRIDREG_BLOB_DRIVER (s3|fs) and its driver variables")
	}
	return blob.Open(ctx)
}

// loadDocument reads an entity config file and returns it as canonical JSON.
// YAML files are converted; everything else is passed through as JSON.
func loadDocument(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return json.Marshal(doc)
	default:
		return raw, nil
	}
}

func loadInto(path string, out any) error {
	doc, err := loadDocument(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUpdateTypeFlag(s string) (domain.UpdateType, error) {
	updateType, err := domain.ParseUpdateType(s)
	if err != nil {
		return "", fmt.Errorf("%w (choose major, minor, or patch)", err)
	}
	return updateType, nil
}

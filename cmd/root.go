package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/abusi/clhorde/internal/config"
	"github.com/abusi/clhorde/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool

	viper = viperlib.New()
)

var rootCmd = &cobra.Command{
	Use:     "clhorded",
	Short:   "Orchestrate a pool of claude worker processes",
	Long:    `clhorded runs a daemon that queues prompts and dispatches them to a bounded pool of claude worker processes, and exposes a handful of thin client verbs for talking to that daemon over its control socket.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/clhorde/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: CLHORDE_DEBUG=1)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("max_workers", defaults.MaxWorkers)
	viper.SetDefault("ring_buffer_bytes", defaults.RingBufferBytes)
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("retention.max_terminal_prompts", defaults.Retention.MaxTerminalPrompts)
	viper.SetDefault("worktree.auto_clean", defaults.Worktree.AutoClean)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir := config.DefaultConfigDir()
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := config.DefaultConfigPath()
			if defaultPath != "" {
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
}

func initDebugLogging(tag string) (func(), error) {
	debug := os.Getenv("CLHORDE_DEBUG") != "" || debugFlag
	if !debug {
		return func() {}, nil
	}
	logPath := os.Getenv("CLHORDE_LOG")
	if logPath == "" {
		logPath = filepath.Join(cfg.DataDir, "debug.log")
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, err
	}
	log.SetEnabled(true)
	log.Info(log.CatConfig, tag+" starting", "version", version, "debug", true, "logPath", logPath)
	return cleanup, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string, called from main with ldflags values.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

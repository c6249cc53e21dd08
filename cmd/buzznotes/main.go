package main

import (
	"os"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var current *app
	rootCmd := &cobra.Command{
		Use:          "buzznotes",
		Short:        "Voice notes for beekeepers: locations, beehives and recordings",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			opened, err := openApp(cmd.Context(), viper.GetViper(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			current = opened
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if current == nil {
				return nil
			}
			return current.Close()
		},
	}

	setupFlags(rootCmd)

	appRef := func() *app { return current }
	rootCmd.AddCommand(
		newLocationCommand(appRef),
		newBeehiveCommand(appRef),
		newRecordingCommand(appRef),
		newSyncCommand(appRef),
		newSignInCommand(appRef),
		newSignUpCommand(appRef),
		newGoogleCommand(appRef),
		newSignOutCommand(appRef),
		newStatusCommand(appRef),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.url"), "BuzzNotes API base URL")
	cmd.PersistentFlags().String("local-path", defaults.GetString("local.path"), "Local SQLite store path")
	cmd.PersistentFlags().String("language", defaults.GetString("language"), "Message language (hr, en)")
	cmd.PersistentFlags().Duration("sync-timeout", defaults.GetDuration("sync.timeout"), "Upper bound for one sync")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "Log format (json, console)")

	bindFlag(cmd, "api.url", "api-url")
	bindFlag(cmd, "local.path", "local-path")
	bindFlag(cmd, "language", "language")
	bindFlag(cmd, "sync.timeout", "sync-timeout")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		return err
	}

	return nil
}

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/safecopy/internal/version"
	"github.com/arthur-debert/safecopy/pkg/config"
	"github.com/arthur-debert/safecopy/pkg/deploy"
	"github.com/arthur-debert/safecopy/pkg/filesystem"
	"github.com/arthur-debert/safecopy/pkg/logging"
	"github.com/arthur-debert/safecopy/pkg/types"
)

var (
	verbosity int
	dryRun    bool

	flagContent          string
	flagContentSet       bool
	flagOriginalBasename string
	flagBackup           bool
	flagBackupRoot       string
	flagTransactionID    string
	flagForce            bool
	flagChecksum         string
	flagValidate         string
	flagDirectoryMode    string
	flagRemoteSrc        bool
	flagLocalFollow      bool
	flagFollow           bool
	flagOwner            string
	flagGroup            string
	flagMode             string
	flagOutput           string

	rootCmd = &cobra.Command{
		Use:   "safecopy [flags] SRC DEST",
		Short: "Deploy a file or directory tree with backup and validation",
		Long: `safecopy deploys a single file or an entire directory tree to a
destination on this machine, applying ownership and permission metadata,
optionally validating content before activation and preserving a
timestamped backup of anything it overwrites. Re-running with unchanged
inputs changes nothing.`,
		Args: cobra.RangeArgs(1, 2),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDeploy,
	}
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Report what would change without changing anything")

	rootCmd.Flags().StringVar(&flagContent, "content", "", "Inline content to deploy instead of a source path")
	rootCmd.Flags().StringVar(&flagOriginalBasename, "original-basename", "", "Basename used when DEST names a directory")
	rootCmd.Flags().BoolVar(&flagBackup, "backup", false, "Preserve overwritten content under the backup root")
	rootCmd.Flags().StringVar(&flagBackupRoot, "backup-root", "", "Directory backups are stored under")
	rootCmd.Flags().StringVar(&flagTransactionID, "transaction-id", "", "Correlation id grouping this run's backups")
	rootCmd.Flags().BoolVar(&flagForce, "force", true, "Overwrite an existing destination")
	rootCmd.Flags().StringVar(&flagChecksum, "checksum", "", "Expected SHA-1 digest of the source")
	rootCmd.Flags().StringVar(&flagValidate, "validate", "", "Validation command template; %s receives the staged path")
	rootCmd.Flags().StringVar(&flagDirectoryMode, "directory-mode", "", "Mode for directories this run creates")
	rootCmd.Flags().BoolVar(&flagRemoteSrc, "remote-src", false, "Treat the source as already living on this host")
	rootCmd.Flags().BoolVar(&flagLocalFollow, "local-follow", true, "Dereference symlinks inside a source tree")
	rootCmd.Flags().BoolVar(&flagFollow, "follow", false, "Resolve the destination when it is a symlink")
	rootCmd.Flags().StringVar(&flagOwner, "owner", "", "Desired owner of the destination")
	rootCmd.Flags().StringVar(&flagGroup, "group", "", "Desired group of the destination")
	rootCmd.Flags().StringVar(&flagMode, "mode", "", "Desired mode: octal, symbolic, or 'preserve'")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format: text, json or yaml")

	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	flagContentSet = cmd.Flags().Changed("content")

	cfg := types.DefaultConfig()
	cfg.Backup = settings.Backup
	cfg.BackupRoot = settings.BackupRoot
	cfg.Force = settings.Force
	cfg.LocalFollow = settings.LocalFollow
	cfg.Follow = settings.Follow
	cfg.DirectoryMode = settings.DirectoryMode

	if flagContentSet {
		if len(args) != 1 {
			return fmt.Errorf("--content takes a single DEST argument")
		}
		content := flagContent
		cfg.Content = &content
		cfg.Dest = args[0]
	} else {
		if len(args) != 2 {
			return fmt.Errorf("SRC and DEST are required")
		}
		cfg.Src = args[0]
		cfg.Dest = args[1]
	}

	applyFlagOverrides(cmd, &cfg)
	cfg.CheckMode = dryRun

	result, err := deploy.Run(cmd.Context(), filesystem.NewOS(), cfg)
	if err != nil {
		return err
	}
	return printResult(result, flagOutput)
}

// applyFlagOverrides lets explicitly set flags win over config file and
// environment values.
func applyFlagOverrides(cmd *cobra.Command, cfg *types.Config) {
	if cmd.Flags().Changed("backup") {
		cfg.Backup = flagBackup
	}
	if cmd.Flags().Changed("backup-root") {
		cfg.BackupRoot = flagBackupRoot
	}
	if cmd.Flags().Changed("force") {
		cfg.Force = flagForce
	}
	if cmd.Flags().Changed("local-follow") {
		cfg.LocalFollow = flagLocalFollow
	}
	if cmd.Flags().Changed("follow") {
		cfg.Follow = flagFollow
	}
	if cmd.Flags().Changed("directory-mode") {
		cfg.DirectoryMode = flagDirectoryMode
	}
	cfg.OriginalBasename = flagOriginalBasename
	cfg.TransactionID = flagTransactionID
	cfg.Checksum = flagChecksum
	cfg.Validate = flagValidate
	cfg.RemoteSrc = flagRemoteSrc
	cfg.Owner = flagOwner
	cfg.Group = flagGroup
	cfg.Mode = flagMode
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("safecopy version %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
	},
}

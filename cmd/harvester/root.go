package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/souyun-harvester/internal/config"
	"github.com/spf13/cobra"
)

var (
	// configFile is set by the --config flag.
	configFile string

	// settings collects defaults, environment and bound flags.
	settings = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest Tang poems from the Sou-Yun open API",
	Long: `harvester requests every poem ID in 0..BatchCount*BatchSpan from the
Sou-Yun open poem API, a bounded number of batches at a time, and appends
each returned envelope as one JSON line to {OUTPUT_FOLDER}/poem.txt.

Failed IDs are logged and skipped; the run always finishes every batch.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(settings, configFile); err != nil {
			return err
		}
		cfg := config.FromViper(settings)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err := run(ctx, cfg, cmd.ErrOrStderr())
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (optional)")

	flags := rootCmd.Flags()
	flags.String("output", "", "output folder (overrides OUTPUT_FOLDER)")
	flags.Bool("resume", false, "skip IDs recorded in {output}/ledger.db and record new ones")

	// BindPFlag only fails for a nil flag.
	_ = settings.BindPFlag(config.KeyOutputFolder, flags.Lookup("output"))
	_ = settings.BindPFlag(config.KeyResume, flags.Lookup("resume"))

	rootCmd.AddCommand(versionCmd)
}

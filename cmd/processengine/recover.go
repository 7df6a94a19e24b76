package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume suspended process instances from a durable store",
	Long: `Sweeps the configured store for suspended flow node instances and resumes
their process instances. With --wait the command keeps the resumed instances
alive until interrupted, so pending timers fire and messages are received.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, cfg, release, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer release()
		if cfg.Store.Backend == "memory" {
			return fmt.Errorf("nothing to recover from the memory store; configure bolt or redis")
		}

		if err := eng.Recover(ctx); err != nil {
			return err
		}

		ids, err := eng.Models().ListProcessModels(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			recs, err := eng.Repository().QuerySuspendedByProcessModel(ctx, id)
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d suspended\n", id, len(recs))
			}
		}

		if wait {
			<-ctx.Done()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().Bool("wait", false, "Keep running until interrupted")
}

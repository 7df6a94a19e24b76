package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/processengine"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <model-id>",
	Short: "Execute one process instance and print its outcome",
	Long: `Starts a process instance of the given model and waits until it completes or
fails. The outcome (state, final payload and result history) is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payloadArg, _ := cmd.Flags().GetString("payload")
		correlationID, _ := cmd.Flags().GetString("correlation-id")
		user, _ := cmd.Flags().GetString("user")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		var payload any
		if payloadArg != "" {
			if err := json.Unmarshal([]byte(payloadArg), &payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		eng, _, release, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer release()

		var opts []processengine.StartOption
		if correlationID != "" {
			opts = append(opts, processengine.WithCorrelationID(correlationID))
		}
		out, err := eng.Execute(ctx, args[0], payload, domain.Identity{UserID: user}, opts...)
		if out == nil {
			return err
		}
		if perr := printJSON(cmd, outcomeView(out)); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("payload", "p", "", "Initial payload as a JSON document")
	runCmd.Flags().String("correlation-id", "", "Correlation id of the instance")
	runCmd.Flags().String("user", "", "User id of the starting identity")
	runCmd.Flags().Duration("timeout", 0, "Give up waiting after this long (0 waits forever)")
}

// setup loads the configuration and builds the engine for a command.
func setup(ctx context.Context, cmd *cobra.Command, extra ...processengine.Option) (*processengine.Engine, Config, func() error, error) {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return nil, cfg, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, cfg, nil, err
	}
	slog.SetDefault(logger)
	eng, release, err := cfg.Build(ctx, logger, extra...)
	if err != nil {
		return nil, cfg, nil, err
	}
	return eng, cfg, release, nil
}

type outcome struct {
	ProcessInstanceID string               `json:"process_instance_id"`
	State             string               `json:"state"`
	Payload           any                  `json:"payload"`
	History           []domain.ResultEntry `json:"history"`
	Error             string               `json:"error,omitempty"`
}

func outcomeView(out *processengine.Outcome) outcome {
	v := outcome{
		ProcessInstanceID: out.ProcessInstanceID,
		State:             string(out.State),
		Payload:           out.Token.Payload,
		History:           out.Token.History,
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
	}
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

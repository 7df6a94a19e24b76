package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/pkg/adapters/file"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check process models for consistency",
	Long: `Validates every model of the model directory, or the given files: dangling
sequence flows, unreachable nodes, unsupported boundary events and ambiguous
link events are reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runValidate(cmd, args); err != nil {
			return fmt.Errorf("validation failed:\n%w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Models are valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
			matches, err := filepath.Glob(filepath.Join(cfg.Models, pattern))
			if err != nil {
				return err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		return fmt.Errorf("no model files found")
	}

	var errs error
	for _, path := range files {
		m, err := file.ReadModel(path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := model.New(m).Validate(); err != nil {
			for _, e := range multierr.Errors(err) {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", filepath.Base(path), e))
			}
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ok\n", filepath.Base(path), m.ID)
	}
	return errs
}

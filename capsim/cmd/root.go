// Package cmd provides the command-line interface of capsim.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// EnvPrefix prefixes the environment variables that provide flag defaults.
const EnvPrefix = "CAPSIM_"

const defaultEnvFile = ".env"

// NewRootCmd creates the capsim command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "capsim",
		Short: "capsim drives the capture engine with a simulated sensor.",
		Long: `capsim drives the capture engine with a simulated sensor in ` +
			`virtual time. It can record every dispatched frame and serve ` +
			`a live monitor while the run is in progress.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadEnv,
	}

	root.PersistentFlags().String("env-file", defaultEnvFile,
		"File with CAPSIM_* variables that provide flag defaults")

	root.AddCommand(newRunCmd())
	root.AddCommand(newReportCmd())

	return root
}

// Execute runs the command line and exits on failure.
func Execute() {
	err := NewRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

func loadEnv(cmd *cobra.Command, _ []string) error {
	file, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}

	err = godotenv.Load(file)
	if err != nil {
		missingDefault := errors.Is(err, fs.ErrNotExist) &&
			!cmd.Flags().Changed("env-file")
		if !missingDefault {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}

	return applyEnv(cmd.Flags())
}

// applyEnv sets every flag the user did not give from its CAPSIM_ variable.
func applyEnv(flags *pflag.FlagSet) error {
	var err error

	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}

		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}

		if setErr := flags.Set(f.Name, v); setErr != nil {
			err = fmt.Errorf("%s: %w", envName(f.Name), setErr)
		}
	})

	return err
}

func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

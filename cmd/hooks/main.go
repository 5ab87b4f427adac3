// Command hooks is the cmd/hooks binary referenced by §6.2's
// settings.json: one subcommand per hook name in internal/hooks.HookNames,
// each reading one JSON payload from stdin and writing at most one of
// §6.1's three stdout shapes. Wrapping every dispatch in a context
// deadline mirrors the teacher's cmd/dcode/main.go use of
// context.WithTimeout around its own long-running operations (§4.9, §5:
// "60-second hook timeout; each hook must complete or be killed").
package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dhanuzh/dcode-hooks/internal/config"
	"github.com/Dhanuzh/dcode-hooks/internal/hooks"
)

func main() {
	root := &cobra.Command{
		Use:           "hooks",
		Short:         "Event-driven hook handlers for persistent assistant memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, name := range hooks.HookNames {
		root.AddCommand(newHookCommand(name))
	}

	if err := root.Execute(); err != nil {
		// A cobra-level error (unknown subcommand, bad flags) is a user
		// error on the CLI surface, not a hook-protocol failure — this is
		// the one path where a non-hook-dispatch exit code is legitimate.
		os.Exit(0)
	}
}

func newHookCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "Run the " + name + " hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir := os.Getenv(config.EnvProjectDir)
			if projectDir == "" {
				projectDir, _ = os.Getwd()
			}
			env := hooks.DefaultEnv(projectDir)

			timeout := time.Duration(env.Config.HookTimeoutSeconds) * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			done := make(chan int, 1)
			go func() {
				done <- hooks.Dispatch(name, cmd.InOrStdin(), cmd.OutOrStdout(), env)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				// Deadline exceeded: exit cleanly with no further output
				// rather than let the host kill a half-written stdout
				// (§4.9: "never exceed a 60-second wall-clock budget").
			}
			return nil
		},
	}
}

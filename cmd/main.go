package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/olympus-org/olympus/internal/build"
	"github.com/olympus-org/olympus/internal/cmd"

	_ "github.com/olympus-org/olympus/internal/llm/allproviders"      // Register model backends
	_ "github.com/olympus-org/olympus/internal/store/driver/postgres" // Register database drivers
	_ "github.com/olympus-org/olympus/internal/store/driver/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Olympus is a local-first agent runtime",
	Long: `Olympus is a local-first agent runtime.

It turns goals into executable plans: directed graphs of capability calls
that run under consent scoping, inside a filesystem sandbox, against local
model backends, with every step recorded in a durable transcript.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.CmdServer())
	rootCmd.AddCommand(cmd.CmdRun())
	rootCmd.AddCommand(cmd.CmdSubmit())
	rootCmd.AddCommand(cmd.CmdPlans())
	rootCmd.AddCommand(cmd.CmdAct())
	rootCmd.AddCommand(cmd.CmdVersion())

	if version != "" {
		build.Version = version
	}
}

// Set via -ldflags at release time.
var version = ""

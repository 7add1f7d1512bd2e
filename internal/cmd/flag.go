package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $HOME/.config/olympus/config.yaml)",
	}
	hostFlag = commandLineFlag{
		name:      "host",
		shorthand: "s",
		usage:     "server host",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "server port",
	}
	consentTokenFlag = commandLineFlag{
		name:  "consent-token",
		usage: "consent credential presented to guarded capabilities",
	}
	consentScopesFlag = commandLineFlag{
		name:  "consent-scopes",
		usage: "comma-separated scopes granted alongside the consent token",
	}
	inputFlag = commandLineFlag{
		name:         "input",
		shorthand:    "i",
		defaultValue: "{}",
		usage:        "capability input as a JSON object",
	}
	limitFlag = commandLineFlag{
		name:         "limit",
		shorthand:    "n",
		defaultValue: "50",
		usage:        "maximum number of plans to list",
	}
)

// initFlags registers the command's flags plus the two every command
// carries: --config and --quiet.
func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append(flags, configFlag)
	for _, flag := range flags {
		cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
	cmd.Flags().BoolP("quiet", "q", false, "suppress console logging")
}

// bindFlags connects the string flags to viper so they can be read back
// by name during context construction.
func bindFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append(flags, configFlag)
	for _, flag := range flags {
		if err := viper.BindPFlag(flag.name, cmd.Flags().Lookup(flag.name)); err != nil {
			fmt.Printf("failed to bind flag %s: %v\n", flag.name, err)
		}
	}
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
)

// CmdAct creates the command that invokes a single capability without a plan.
func CmdAct() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "act [flags] <capability>",
			Short: "Invoke one capability directly",
			Long: `Dispatch a capability with the given JSON input and print its output.

The call is consent-checked like a plan step. When consent is required, a
token must be passed explicitly; scopes default to the wildcard since the
invocation itself is explicit.

Example:
  olympus act fs.write --input '{"path":"notes.txt","content":"hi"}' --consent-token=approved
`,
			Args: cobra.ExactArgs(1),
		}, actFlags, runAct,
	)
}

var actFlags = []commandLineFlag{inputFlag, consentTokenFlag, consentScopesFlag}

func runAct(ctx *Context, args []string) error {
	stack, err := ctx.OpenStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	raw, err := ctx.StringParam("input")
	if err != nil {
		return err
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return fmt.Errorf("invalid --input JSON: %w", err)
	}

	value, _ := ctx.Command.Flags().GetString("consent-token")
	if stack.Policy.RequireConsent && value == "" {
		return errors.New("consent token required for direct dispatch (pass --consent-token)")
	}
	if value == "" {
		value = "explicit"
	}
	scopesRaw, _ := ctx.Command.Flags().GetString("consent-scopes")
	scopes := splitList(scopesRaw)
	if len(scopes) == 0 {
		scopes = []string{consent.ScopeAll}
	}
	tok := consent.Resolve(stack.Issuer, value, scopes)

	capability := args[0]
	logger.Info(ctx, "Dispatching capability", tag.Capability(capability))

	output, err := stack.Registry.Dispatch(ctx, capability, input, tok)
	if err != nil {
		return fmt.Errorf("capability %s failed: %w", capability, err)
	}

	pretty, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cvieirasp/webhookhub/internal/store"
)

var ruleFlags []string

// destinationCmd represents the destination command
var destinationCmd = &cobra.Command{
	Use:   "destination",
	Short: "Manage webhook destinations",
	Long:  `Register destinations and the (source, event type) rules that route to them.`,
}

// createDestinationCmd represents the create destination command
var createDestinationCmd = &cobra.Command{
	Use:   "create [name] [target-url]",
	Short: "Register a new destination",
	Long: `Register a new destination together with its initial routing rules.
At least one --rule source:eventType is required.

Example:
  whctl destination create billing-service https://billing.internal/hooks --rule github:push --rule github:release`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := parseRules(ruleFlags)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, cleanup, err := getStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		dst, err := st.CreateDestination(ctx, args[0], args[1], rules)
		if err != nil {
			return fmt.Errorf("create destination: %w", err)
		}

		printOutput(dst)
		return nil
	},
}

// addRuleCmd represents the destination add-rule command
var addRuleCmd = &cobra.Command{
	Use:   "add-rule [destination-id] [source] [event-type]",
	Short: "Add a routing rule to an existing destination",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		st, cleanup, err := getStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := st.AddDestinationRule(ctx, args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("add rule: %w", err)
		}

		printOutput(map[string]string{"destination_id": args[0], "source": args[1], "event_type": args[2]})
		return nil
	},
}

func parseRules(raw []string) ([]store.DestinationRule, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --rule source:eventType is required")
	}
	out := make([]store.DestinationRule, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --rule %q, expected source:eventType", r)
		}
		out = append(out, store.DestinationRule{SourceName: parts[0], EventType: parts[1]})
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(destinationCmd)
	destinationCmd.AddCommand(createDestinationCmd)
	destinationCmd.AddCommand(addRuleCmd)

	createDestinationCmd.Flags().StringArrayVar(&ruleFlags, "rule", nil, "source:eventType routing rule (repeatable)")
}

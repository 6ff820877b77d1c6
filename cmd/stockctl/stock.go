package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rl1809/stockledger/internal/client"
	"github.com/rl1809/stockledger/internal/mutation"
)

var assumeYes bool

var addCmd = stockCommand(mutation.IntentAdd, "add <id> <amount>", "Add units to an item")
var deductCmd = stockCommand(mutation.IntentDeduct, "deduct <id> <amount>", "Remove units from an item")
var moveCmd = stockCommand(mutation.IntentMove, "move <id> <delta>", "Apply a signed movement; the result is clamped at 0")

func stockCommand(intent mutation.Intent, use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			return runStock(cmd, intent, args[0], amount)
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runStock(cmd *cobra.Command, intent mutation.Intent, id string, amount int) error {
	ctx := cmd.Context()
	c := newClient()

	item, err := c.GetItem(ctx, id)
	if err != nil {
		return err
	}

	coord := mutation.NewCoordinator(c, nil, notifier(cmd), quietLogger())
	dialog := coord.StockDialog(item, intent)
	if err := dialog.Edit(amount); err != nil {
		return err
	}
	if err := dialog.Review(); err != nil {
		return err
	}

	plan := dialog.Plan()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d -> %d (%+d)\n", item.Name, plan.OldStock, plan.NewStock, plan.Delta())
	if !assumeYes && !confirm(cmd) {
		return dialog.Back()
	}
	return dialog.Confirm(ctx)
}

func confirm(cmd *cobra.Command) bool {
	fmt.Fprint(cmd.OutOrStdout(), "Confirm? [y/N] ")
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an item; its movements are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()
		item, err := c.GetItem(ctx, args[0])
		if err != nil {
			return err
		}

		coord := mutation.NewCoordinator(c, nil, notifier(cmd), quietLogger())
		dialog := coord.DeleteDialog(item)
		if err := dialog.Review(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delete %s (%s, stock %d)?\n", item.Name, item.SKU, item.CurrentStock)
		if !assumeYes && !confirm(cmd) {
			return dialog.Back()
		}
		return dialog.Confirm(ctx)
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
}

var _ mutation.LedgerAPI = (*client.Client)(nil)

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/stockledger/internal/core/domain"
)

var (
	listPage     int
	listPageSize int
	listCategory string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List one page of items, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := domain.ItemQuery{Page: listPage, PageSize: listPageSize}
		if listCategory != "" {
			c, err := domain.ParseCategory(listCategory)
			if err != nil {
				return err
			}
			q.Category = c
		}

		page, err := newClient().ListItems(cmd.Context(), q)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), page)
		}
		printItems(cmd.OutOrStdout(), page.Data)
		fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d items\n", q.Page, len(page.Data), page.Count)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := newClient().GetItem(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), item)
		}
		printItems(cmd.OutOrStdout(), []domain.Item{item})
		return nil
	},
}

var (
	createName     string
	createSKU      string
	createCategory string
	createStock    int
	createKey      string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an item; its starting stock is recorded as a movement",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := domain.ParseCategory(createCategory)
		if err != nil {
			return err
		}
		key := createKey
		if key == "" {
			key = uuid.NewString()
		}

		item, err := newClient().CreateItem(cmd.Context(), domain.NewItem{
			Name:         createName,
			SKU:          createSKU,
			Category:     category,
			CurrentStock: createStock,
		}, key)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), item)
		}
		printItems(cmd.OutOrStdout(), []domain.Item{item})
		return nil
	},
}

var (
	editName     string
	editSKU      string
	editCategory string
)

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change an item's name, SKU or category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var d domain.Details
		if cmd.Flags().Changed("name") {
			d.Name = &editName
		}
		if cmd.Flags().Changed("sku") {
			d.SKU = &editSKU
		}
		if cmd.Flags().Changed("category") {
			c, err := domain.ParseCategory(editCategory)
			if err != nil {
				return err
			}
			d.Category = &c
		}

		item, err := newClient().UpdateDetails(cmd.Context(), args[0], d)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), item)
		}
		printItems(cmd.OutOrStdout(), []domain.Item{item})
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [item-id]",
	Short: "Show stock movements, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var itemID string
		if len(args) == 1 {
			itemID = args[0]
		}
		movements, err := newClient().ListMovements(cmd.Context(), itemID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), movements)
		}
		printMovements(cmd.OutOrStdout(), movements)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show catalog totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newClient().Summary(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), s)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "SKUs: %d\nTotal stock: %d\nBelow %d: %d\n",
			s.TotalSKUs, s.TotalStock, domain.LowStockThreshold, s.LowCount)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listPage, "page", 0, "zero-based page")
	listCmd.Flags().IntVar(&listPageSize, "page-size", domain.DefaultPageSize, "items per page")
	listCmd.Flags().StringVar(&listCategory, "category", "", "only items in this category (feeds, flour)")

	createCmd.Flags().StringVar(&createName, "name", "", "item name")
	createCmd.Flags().StringVar(&createSKU, "sku", "", "unique SKU")
	createCmd.Flags().StringVar(&createCategory, "category", "", "feeds or flour")
	createCmd.Flags().IntVar(&createStock, "stock", 0, "starting stock")
	createCmd.Flags().StringVar(&createKey, "idempotency-key", "", "retry key (default: random)")
	createCmd.MarkFlagRequired("name")
	createCmd.MarkFlagRequired("sku")
	createCmd.MarkFlagRequired("category")

	editCmd.Flags().StringVar(&editName, "name", "", "new name")
	editCmd.Flags().StringVar(&editSKU, "sku", "", "new SKU")
	editCmd.Flags().StringVar(&editCategory, "category", "", "new category")
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/example/optical-storefront/internal/cart"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/spf13/cobra"
)

func newCartCmd(a *app) *cobra.Command {
	var store *cart.Store

	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show and change the cart of the logged in user",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// cobra only runs the closest PersistentPreRunE
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			store = cart.NewStore(a.client, a.session)
			a.closers = append(a.closers, store.Close)
			return nil
		},
	}

	show := func(cmd *cobra.Command) {
		printCart(cmd.OutOrStdout(), store)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Fetch and print the cart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := store.Refresh(cmd.Context()); err != nil {
					return err
				}
				show(cmd)
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <variant-id> [quantity]",
			Short: "Add a product variant",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				variantID, err := parseID(args[0])
				if err != nil {
					return err
				}
				qty := 1
				if len(args) == 2 {
					if qty, err = strconv.Atoi(args[1]); err != nil {
						return fmt.Errorf("invalid quantity %q", args[1])
					}
				}
				if err := store.AddItem(cmd.Context(), variantID, qty); err != nil {
					return err
				}
				show(cmd)
				return nil
			},
		},
		&cobra.Command{
			Use:   "update <item-id> <quantity>",
			Short: "Set the quantity of a cart line, 0 removes it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				itemID, err := parseID(args[0])
				if err != nil {
					return err
				}
				qty, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid quantity %q", args[1])
				}
				if err := store.UpdateItemQuantity(cmd.Context(), itemID, qty); err != nil {
					return err
				}
				show(cmd)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <item-id>",
			Short: "Remove a cart line",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				itemID, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := store.RemoveItem(cmd.Context(), itemID); err != nil {
					return err
				}
				show(cmd)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every line",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				show(cmd)
				return nil
			},
		},
	)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printCart(out io.Writer, store *cart.Store) {
	c := store.Cart()
	if c == nil || len(c.Items) == 0 {
		fmt.Fprintln(out, "Cart is empty")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tPRODUCT\tVARIANT\tQTY\tUNIT\tSUBTOTAL\tNOTE")
	for _, it := range c.Items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.Variant.Product.Name, variantLabel(it.Variant), it.Qty,
			it.UnitPrice.StringFixed(2), it.Subtotal().StringFixed(2), stockHint(c, it))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d items, total %s\n", store.CartCount(), store.TotalPrice().StringFixed(2))
}

func variantLabel(v readmodel.VariantRef) string {
	switch {
	case v.Color != "" && v.Size != "":
		return v.Color + "/" + v.Size
	case v.SKU != "":
		return v.SKU
	}
	return strconv.FormatInt(v.ID, 10)
}

func stockHint(c *readmodel.Cart, it readmodel.CartItem) string {
	if c.CanIncrement(it.ID) {
		return ""
	}
	return "max stock"
}

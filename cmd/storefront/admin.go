package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/optical-storefront/internal/api"
	"github.com/example/optical-storefront/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Catalog management for admin accounts",
	}

	product := &cobra.Command{
		Use:   "product",
		Short: "Create, update and delete products",
	}
	product.AddCommand(
		newProductCreateCmd(a),
		newProductUpdateCmd(a),
		newProductDeleteCmd(a),
	)
	cmd.AddCommand(product)
	return cmd
}

func (a *app) newAdmin() *catalog.Admin {
	return catalog.NewAdmin(a.client, a.session, a.newCache())
}

// productFlags collects the dashboard form fields
type productFlags struct {
	name        string
	description string
	price       string
	category    int64
	image       string
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "product name")
	cmd.Flags().StringVar(&f.description, "description", "", "product description")
	cmd.Flags().StringVar(&f.price, "base-price", "", "base price, e.g. 249.90")
	cmd.Flags().Int64Var(&f.category, "category", 0, "category id")
	cmd.Flags().StringVar(&f.image, "image", "", "path of an image to upload")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base-price")
	_ = cmd.MarkFlagRequired("category")
}

func (f *productFlags) form() (api.ProductForm, error) {
	price, err := decimal.NewFromString(f.price)
	if err != nil {
		return api.ProductForm{}, fmt.Errorf("invalid base price %q", f.price)
	}
	form := api.ProductForm{
		Name:        f.name,
		Description: f.description,
		BasePrice:   price,
		CategoryID:  f.category,
	}
	if f.image != "" {
		data, err := os.ReadFile(f.image)
		if err != nil {
			return api.ProductForm{}, fmt.Errorf("failed to read image: %w", err)
		}
		form.Image = data
		form.ImageName = filepath.Base(f.image)
	}
	return form, nil
}

func newProductCreateCmd(a *app) *cobra.Command {
	var flags productFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := flags.form()
			if err != nil {
				return err
			}
			p, err := a.newAdmin().CreateProduct(cmd.Context(), form)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created product #%d %s\n", p.ID, p.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newProductUpdateCmd(a *app) *cobra.Command {
	var flags productFlags

	cmd := &cobra.Command{
		Use:   "update <product-id>",
		Short: "Replace a product's fields, and its image when --image is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			form, err := flags.form()
			if err != nil {
				return err
			}
			p, err := a.newAdmin().UpdateProduct(cmd.Context(), id, form)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated product #%d %s\n", p.ID, p.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newProductDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <product-id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.newAdmin().DeleteProduct(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted product #%d\n", id)
			return nil
		},
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/example/optical-storefront/internal/auth"
	"github.com/example/optical-storefront/internal/catalog"
	"github.com/example/optical-storefront/internal/infrastructure/kafka"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/example/optical-storefront/internal/readmodel"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) newCache() *catalog.QueryCache {
	opts := []catalog.CacheOption{catalog.WithTTL(a.cfg.CacheTTL)}
	if a.cfg.CacheMaxEntries > 0 {
		opts = append(opts, catalog.WithMaxEntries(a.cfg.CacheMaxEntries))
	}
	return catalog.NewQueryCache(opts...)
}

func newProductsCmd(a *app) *cobra.Command {
	var query string
	fields := map[string]*string{}

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List one page of the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := catalog.FromQueryString(query)
			// page last, every other field resets it
			for _, key := range []string{
				catalog.FieldSearch, catalog.FieldCategory, catalog.FieldPriceMin,
				catalog.FieldPriceMax, catalog.FieldStock, catalog.FieldLimit, catalog.FieldPage,
			} {
				if !cmd.Flags().Changed(flagName(key)) {
					continue
				}
				next, err := state.Set(key, *fields[key])
				if err != nil {
					return err
				}
				state = next
			}

			cache := a.newCache()
			page, err := cache.Fetch(cmd.Context(), catalog.CacheKey(state), func(ctx context.Context) (*readmodel.ProductsPage, error) {
				return a.client.ListProducts(ctx, state.APIValues())
			})
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), state, page)
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "start from a URL query string, e.g. search=aviator&page=2")
	for _, key := range []string{
		catalog.FieldSearch, catalog.FieldCategory, catalog.FieldPriceMin,
		catalog.FieldPriceMax, catalog.FieldStock, catalog.FieldPage, catalog.FieldLimit,
	} {
		fields[key] = new(string)
		cmd.Flags().StringVar(fields[key], flagName(key), "", "filter "+key)
	}
	return cmd
}

func flagName(field string) string {
	return strings.ReplaceAll(field, "_", "-")
}

func newProductCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Show a product and its variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			p, err := a.client.GetProduct(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (#%d)\n", p.Name, p.ID)
			if p.Description != "" {
				fmt.Fprintln(out, p.Description)
			}
			fmt.Fprintf(out, "Base price: %s\n", p.BasePrice.StringFixed(2))
			if img := a.client.ImageURL(p.Image); img != "" {
				fmt.Fprintf(out, "Image: %s\n", img)
			}
			fmt.Fprintf(out, "Colors: %s  Sizes: %s\n", strings.Join(p.Colors(), ", "), strings.Join(p.Sizes(), ", "))

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VARIANT\tSKU\tCOLOR\tSIZE\tPRICE\tSTOCK")
			for _, v := range p.Variants {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", v.ID, v.SKU, v.Color, v.Size, p.UnitPrice(v).StringFixed(2), v.StockQty)
			}
			return w.Flush()
		},
	}
}

func printPage(out io.Writer, state catalog.FilterState, page *readmodel.ProductsPage) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFROM\tSTOCK")
	for i := range page.Products {
		p := &page.Products[i]
		stock := "out of stock"
		if p.InStock() {
			stock = "available"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, p.BasePrice.StringFixed(2), stock)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "Page %d of %d (%d products)", page.Page, page.TotalPages, page.Total)
	if window := catalog.PageWindow(page.Page, page.TotalPages); window != nil {
		fmt.Fprintf(out, "  pages %v", window)
	}
	fmt.Fprintln(out)
	if qs := catalog.ToQueryString(state); qs != "" {
		fmt.Fprintf(out, "?%s\n", qs)
	}
}

// newBrowseCmd runs the live filter engine over stdin. Each line is a
// field and a value ("search aviator", "category 2", "page 3"), or one of
// clear, refresh and quit.
func newBrowseCmd(a *app) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Interactive catalog browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()

			cache := a.newCache()
			location := catalog.NewMemoryLocation(query)
			browser := catalog.NewBrowser(a.client, cache,
				catalog.WithLocation(location),
				catalog.WithDebounce(a.cfg.Debounce),
			)
			defer browser.Close()

			unsubscribe := browser.Subscribe(func(s catalog.Snapshot) {
				switch {
				case s.Loading:
				case s.Err != nil:
					fmt.Fprintf(out, "error: %v\n", s.Err)
				case s.Page != nil:
					printPage(out, s.Filters, s.Page)
				}
			})
			defer unsubscribe()

			g, gctx := errgroup.WithContext(ctx)
			if len(a.cfg.KafkaBrokers) > 0 {
				consumer := kafka.NewConsumer(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.cfg.KafkaGroup)
				defer consumer.Close()
				invalidator := catalog.NewInvalidator(cache, browser.Refetch)
				g.Go(func() error {
					if err := invalidator.Run(gctx, consumer); err != nil && gctx.Err() == nil {
						logger.Warn("[Storefront] catalog event consumer stopped", "error", err)
					}
					return nil
				})
			}
			refresher := auth.NewRefresher(a.session, a.client, a.cfg.RefreshLead)
			g.Go(func() error {
				if err := refresher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})

			browser.Refetch()
			err := readCommands(cmd.InOrStdin(), out, browser)
			cancel()
			if gerr := g.Wait(); err == nil {
				err = gerr
			}
			if qs := location.Query(); qs != "" {
				fmt.Fprintf(out, "?%s\n", qs)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "initial URL query string")
	return cmd
}

func readCommands(in io.Reader, out io.Writer, browser *catalog.Browser) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "quit", "exit":
			return nil
		case "clear":
			browser.Clear()
		case "refresh":
			browser.Refetch()
		case catalog.FieldPage:
			n, convErr := strconv.Atoi(value)
			if convErr != nil {
				err = fmt.Errorf("%w: page %q", catalog.ErrInvalidValue, value)
				break
			}
			err = browser.GoToPage(n)
		default:
			err = browser.Set(key, value)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

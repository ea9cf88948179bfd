package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"listing-snapshot-api/internal/cache"
	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/naming"
	"listing-snapshot-api/internal/schema"
	"listing-snapshot-api/internal/sku"

	"github.com/spf13/cobra"
)

func skuCmd(e *env, ctx ctxFunc) *cobra.Command {
	var withName bool

	cmd := &cobra.Command{
		Use:   "sku <item.json|->",
		Short: "Derive the canonical SKU of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var item model.RawItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return fmt.Errorf("invalid item JSON: %w", err)
			}
			key := sku.Derive(item)

			if !withName {
				fmt.Fprintln(cmd.OutOrStdout(), key.String())
				return nil
			}

			if err := e.load(); err != nil {
				return err
			}
			lookup := schema.NewCachedLookup(
				schema.NewClient(e.cfg.Services.SchemaURL, e.cfg.Services.Timeout),
				schema.NewClient(e.cfg.Services.SkinURL, e.cfg.Services.Timeout),
				cache.NewMemoryCache(0), e.cfg.Cache.TTL, e.log,
			)
			c, cancel := ctx(cmd)
			defer cancel()
			name, err := naming.NewResolver(lookup, lookup).Resolve(c, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key.String(), name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withName, "name", false, "also resolve the display name through the metadata services")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sku>",
		Short: "Check that a SKU is canonical",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := sku.Parse(args[0])
			if err != nil {
				return err
			}
			if canonical := key.String(); canonical != args[0] {
				return fmt.Errorf("%w: %q is not canonical, expected %q", sku.ErrInvalidSKU, args[0], canonical)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const defaultLocalActor = "local"

func newBookCommand() *cobra.Command {
	var (
		productID int64
		kind      string
		quantity  int64
		note      string
		actor     string
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Record a stock movement in the local store",
		Long: "Books an inbound, outbound or correction movement against the local store. " +
			"Works offline; the movement reaches the hub on the next round.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			ledger, err := rt.ledger()
			if err != nil {
				return err
			}
			actorName := strings.TrimSpace(actor)
			if actorName == "" {
				actorName = defaultLocalActor
			}
			movement, err := ledger.Apply(cmd.Context(), inventory.ApplyRequest{
				ProductID: productID,
				Type:      inventory.MovementType(strings.ToLower(kind)),
				Quantity:  quantity,
				Note:      note,
				Actor:     inventory.Actor{ID: actorName, Name: actorName},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "movement %s: product %d %d -> %d\n",
				movement.ID, movement.ProductID, movement.QuantityBefore, movement.QuantityAfter)
			return nil
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "Product id")
	cmd.Flags().StringVar(&kind, "type", string(inventory.MovementInbound), "Movement type (inbound, outbound, correction)")
	cmd.Flags().Int64Var(&quantity, "quantity", 0, "Quantity; for corrections the signed delta")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.Flags().StringVar(&actor, "actor", "", "Who books the movement")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

type productFlags struct {
	name              string
	description       string
	barcode           string
	quantity          int64
	minQuantity       int64
	price             string
	categoryID        int64
	storageLocationID int64
}

func (f *productFlags) register(cmd *cobra.Command, withQuantity bool) {
	cmd.Flags().StringVar(&f.name, "name", "", "Product name")
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
	cmd.Flags().StringVar(&f.barcode, "barcode", "", "Barcode")
	cmd.Flags().Int64Var(&f.minQuantity, "min-quantity", 0, "Low-stock threshold")
	cmd.Flags().StringVar(&f.price, "price", "0", "Unit price")
	cmd.Flags().Int64Var(&f.categoryID, "category", 0, "Category id")
	cmd.Flags().Int64Var(&f.storageLocationID, "location", 0, "Storage location id")
	if withQuantity {
		cmd.Flags().Int64Var(&f.quantity, "quantity", 0, "Initial quantity")
	}
}

func (f *productFlags) input() (inventory.ProductInput, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(f.price))
	if err != nil {
		return inventory.ProductInput{}, fmt.Errorf("invalid price %q: %w", f.price, err)
	}
	return inventory.ProductInput{
		Name:              f.name,
		Description:       f.description,
		Barcode:           f.barcode,
		Quantity:          f.quantity,
		MinQuantity:       f.minQuantity,
		Price:             price,
		CategoryID:        optionalID(f.categoryID),
		StorageLocationID: optionalID(f.storageLocationID),
	}, nil
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func newProductCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products in the local store",
	}

	var addFlags productFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := addFlags.input()
			if err != nil {
				return err
			}
			return withCatalog(func(rt *runtime, catalog *inventory.Catalog) error {
				product, err := catalog.CreateProduct(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d created\n", product.ID)
				return nil
			})
		},
	}
	addFlags.register(add, true)
	_ = add.MarkFlagRequired("name")

	var updateFlags productFlags
	var updateID int64
	update := &cobra.Command{
		Use:   "update",
		Short: "Replace a product's descriptive fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := updateFlags.input()
			if err != nil {
				return err
			}
			return withCatalog(func(rt *runtime, catalog *inventory.Catalog) error {
				product, err := catalog.UpdateProduct(cmd.Context(), updateID, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d updated\n", product.ID)
				return nil
			})
		},
	}
	updateFlags.register(update, false)
	update.Flags().Int64Var(&updateID, "id", 0, "Product id")
	_ = update.MarkFlagRequired("id")
	_ = update.MarkFlagRequired("name")

	var deleteID int64
	remove := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCatalog(func(rt *runtime, catalog *inventory.Catalog) error {
				if err := catalog.DeleteProduct(cmd.Context(), deleteID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "product %d deleted\n", deleteID)
				return nil
			})
		},
	}
	remove.Flags().Int64Var(&deleteID, "id", 0, "Product id")
	_ = remove.MarkFlagRequired("id")

	cmd.AddCommand(add, update, remove)
	return cmd
}

func withCatalog(fn func(rt *runtime, catalog *inventory.Catalog) error) error {
	rt, err := openRuntime(logging.FormatConsole)
	if err != nil {
		return err
	}
	defer rt.Close()

	catalog, err := inventory.NewCatalog(rt.store)
	if err != nil {
		return err
	}
	return fn(rt, catalog)
}

func openOutput(path string) (*os.File, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}

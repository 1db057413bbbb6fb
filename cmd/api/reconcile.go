package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"formsync/api/internal/reconcile"
	"formsync/api/internal/store"
)

var (
	reconcileOld string
	reconcileNew string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Print the operations that turn one form document into another",
	Long: "Reads two form documents and prints the nested create/update/delete operations " +
		"that would bring the stored (--old) form in line with the submitted (--new) one. " +
		"Without --old the new document is rendered as a creation. Nothing is written.",
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileOld, "old", "", "Stored form document (JSON)")
	reconcileCmd.Flags().StringVar(&reconcileNew, "new", "", "Submitted form document (JSON)")
	_ = reconcileCmd.MarkFlagRequired("new")
	rootCmd.AddCommand(reconcileCmd)
}

type reconcileOutput struct {
	Stats   reconcile.Stats   `json:"stats"`
	Changes *reconcile.Update `json:"changes,omitempty"`
	Create  *reconcile.Entity `json:"create,omitempty"`
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	next, err := readTree(reconcileNew)
	if err != nil {
		return err
	}

	var out reconcileOutput
	if reconcileOld == "" {
		entity, err := reconcile.Create(next, store.FormSchema)
		if err != nil {
			return err
		}
		out.Create = &entity
		out.Stats = reconcile.OperationSet{Create: []reconcile.Entity{entity}}.Stats()
	} else {
		prev, err := readTree(reconcileOld)
		if err != nil {
			return err
		}
		update, err := reconcile.Reconcile(next, prev, store.FormSchema)
		if err != nil {
			return err
		}
		out.Changes = &update
		out.Stats = update.Stats()
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func readTree(path string) (reconcile.Node, error) {
	if path == "" {
		return reconcile.Node{}, errors.New("missing form document path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return reconcile.Node{}, fmt.Errorf("read %s: %w", path, err)
	}
	tree, err := reconcile.DecodeTreeBytes(data, store.FormSchema)
	if err != nil {
		return reconcile.Node{}, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

func (a *app) newCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections that hold at least one record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
				names, err := e.ListCollections(ctx)
				if err != nil {
					return err
				}
				if names == nil {
					names = []string{}
				}
				return a.render(cmd.OutOrStdout(), names, func(w io.Writer) error {
					if len(names) == 0 {
						_, err := fmt.Fprintln(w, "No collections.")
						return err
					}
					for _, n := range names {
						if _, err := fmt.Fprintln(w, n); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
				rec, found, err := e.GetByID(ctx, collection, id)
				if err != nil {
					return err
				}
				if !found {
					return vserr.New(vserr.CodeStoreRecordNotFound,
						fmt.Sprintf("record %q not found in collection %q", id, collection),
						vserr.FieldCollection(collection), vserr.FieldRecordID(id))
				}
				return a.render(cmd.OutOrStdout(), rec, func(w io.Writer) error {
					meta := "-"
					if rec.Metadata != nil {
						raw, err := json.Marshal(rec.Metadata)
						if err != nil {
							return err
						}
						meta = string(raw)
					}
					_, err := fmt.Fprintf(w, "%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n",
						keyStyle.Render("collection:"), rec.Collection,
						keyStyle.Render("id:        "), rec.ID,
						keyStyle.Render("content:   "), rec.Content,
						keyStyle.Render("metadata:  "), meta,
						keyStyle.Render("embedding: "), dimStyle.Render(fmt.Sprintf("[%d dimensions]", len(rec.Embedding))))
					return err
				})
			})
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one record; deleting a missing record is not an error",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
				if err := e.Delete(ctx, collection, id); err != nil {
					return err
				}
				res := map[string]string{"collection": collection, "id": id, "status": "deleted"}
				return a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted %s/%s\n", collection, id)
					return err
				})
			})
		},
	}
}

type countResult struct {
	Collection string `json:"collection" yaml:"collection"`
	Count      int64  `json:"count" yaml:"count"`
}

func (a *app) newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count the records in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
				n, err := e.Count(ctx, args[0])
				if err != nil {
					return err
				}
				res := countResult{Collection: args[0], Count: n}
				return a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, n)
					return err
				})
			})
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listUnresolvedCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-unresolved",
		Usage:   "List journaled transfers that have not reached a final status",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only show transfers last updated at least this long ago",
				Value: 0,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transfers",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			olderThan := time.Now().Add(-c.Duration("older-than"))
			transfers, err := store.ListUnresolvedTransfers(c.Context, olderThan, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if wantJSON(c) {
				return render(c, transfers)
			}

			// Pretty table output
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tRECIPIENT\tAMOUNT\tSIGNATURE\tUPDATED")
			for _, t := range transfers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					t.ID,
					t.Status,
					t.Recipient,
					t.Amount,
					formatOptional(t.Signature),
					t.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Get a journaled transfer",
		Aliases:   []string{"get"},
		ArgsUsage: "<transfer-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer ID")
			}

			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid transfer ID: %w", err)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			t, err := store.GetTransfer(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if wantJSON(c) {
				return render(c, t)
			}

			printTransfer(c, t)
			return nil
		},
	}
}

func printTransfer(c *cli.Context, t *db.Transfer) {
	w := c.App.Writer
	fmt.Fprintf(w, "ID:         %s\n", t.ID)
	fmt.Fprintf(w, "Status:     %s\n", t.Status)
	fmt.Fprintf(w, "Sender:     %s\n", t.Sender)
	fmt.Fprintf(w, "Recipient:  %s\n", t.Recipient)
	fmt.Fprintf(w, "Mint:       %s\n", t.Mint)
	fmt.Fprintf(w, "Amount:     %d\n", t.Amount)
	fmt.Fprintf(w, "Signature:  %s\n", formatOptional(t.Signature))
	if t.ErrorKind != nil {
		fmt.Fprintf(w, "Error:      %s (%s)\n", formatOptional(t.ErrorMessage), *t.ErrorKind)
	}
	fmt.Fprintf(w, "Created:    %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:    %s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.SubmittedAt != nil {
		fmt.Fprintf(w, "Submitted:  %s\n", t.SubmittedAt.Format(time.RFC3339))
	}
	if t.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved:   %s\n", t.ResolvedAt.Format(time.RFC3339))
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

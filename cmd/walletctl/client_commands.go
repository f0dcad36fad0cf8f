package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/solwallet/client"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:    "account",
		Aliases: []string{"acct"},
		Usage:   "Account commands (HTTP API)",
		Subcommands: []*cli.Command{
			createAccountCommand(),
			balanceCommand(),
			fiatBalanceCommand(),
			accountInfoCommand(),
		},
	}
}

func transferCommands() *cli.Command {
	return &cli.Command{
		Name:    "transfer",
		Aliases: []string{"tx"},
		Usage:   "Token transfer commands (HTTP API)",
		Subcommands: []*cli.Command{
			sendCommand(),
			transferStatusCommand(),
		},
	}
}

func createAccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Generate a new account",
		Description: `Generate a new keypair and recovery phrase on the server.

The secret key and recovery phrase are shown once and never stored.`,
		Action: func(c *cli.Context) error {
			acct, err := apiClient(c).CreateAccount(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			if wantJSON(c) {
				return render(c, acct)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Address:         %s\n", acct.PublicAddress)
			fmt.Fprintf(w, "Secret Key:      %s\n", acct.SecretKey)
			fmt.Fprintf(w, "Recovery Phrase: %s\n", acct.RecoveryPhrase)
			if !acct.RecoveryPhraseLinked {
				fmt.Fprintln(w, "\nThe recovery phrase does not derive this key. Back up the secret key.")
			}
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Aliases:   []string{"bal"},
		Usage:     "Show the native balance of an address",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			bal, err := apiClient(c).GetBalance(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if wantJSON(c) {
				return render(c, bal)
			}

			fmt.Fprintf(c.App.Writer, "%s SOL (%d lamports)\n", bal.SOL, bal.Lamports)
			return nil
		},
	}
}

func fiatBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance-fiat",
		Aliases:   []string{"value"},
		Usage:     "Value the native balance of an address in a fiat currency",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Usage:   "Fiat currency code (server default when empty)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			bal, err := apiClient(c).GetFiatBalance(c.Context, c.Args().First(), c.String("currency"))
			if err != nil {
				return fmt.Errorf("failed to get fiat balance: %w", err)
			}

			if wantJSON(c) {
				return render(c, bal)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Balance: %s SOL\n", bal.SOL)
			fmt.Fprintf(w, "Value:   %s %s\n", bal.Value, bal.Currency)
			fmt.Fprintf(w, "Rate:    %s %s/SOL (as of %s)\n", bal.Rate, bal.Currency, bal.AsOf.Format(time.RFC3339))
			return nil
		},
	}
}

func accountInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the on-chain account at an address",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			info, err := apiClient(c).GetAccountInfo(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get account info: %w", err)
			}

			if wantJSON(c) {
				return render(c, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Address:    %s\n", info.Address)
			fmt.Fprintf(w, "Owner:      %s\n", info.Owner)
			fmt.Fprintf(w, "Lamports:   %d\n", info.Lamports)
			fmt.Fprintf(w, "Executable: %v\n", info.Executable)
			fmt.Fprintf(w, "Space:      %d bytes\n", info.Space)
			switch {
			case info.TokenAccount != nil:
				fmt.Fprintf(w, "Token:      %s\n", string(info.TokenAccount))
			case info.Mint != nil:
				fmt.Fprintf(w, "Mint:       %s\n", string(info.Mint))
			}
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send tokens from the treasury to a recipient",
		ArgsUsage: "<recipient> <amount>",
		Description: `Send <amount> base units of the configured token to <recipient>.

The command waits for ledger confirmation. If it fails with a retryable
error, rerun it with the same --idempotency-key; the server never sends
the same keyed transfer twice.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "idempotency-key",
				Aliases: []string{"k"},
				Usage:   "Idempotency key for the transfer (generated when empty)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: recipient and amount")
			}

			recipient := c.Args().Get(0)
			amount, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
			if err != nil || amount == 0 {
				return fmt.Errorf("amount must be a positive integer number of base units")
			}

			key := c.String("idempotency-key")
			if key == "" {
				key = uuid.NewString()
				fmt.Fprintf(c.App.ErrWriter, "Idempotency key: %s\n", key)
			}

			tr, err := apiClient(c).Transfer(c.Context, recipient, amount, key)
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			if wantJSON(c) {
				return render(c, tr)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "✓ Transfer confirmed\n")
			fmt.Fprintf(w, "  ID:        %s\n", tr.ID)
			fmt.Fprintf(w, "  Signature: %s\n", tr.Signature)
			fmt.Fprintf(w, "  Recipient: %s\n", tr.Recipient)
			fmt.Fprintf(w, "  Amount:    %d\n", tr.Amount)
			if tr.ProvisionedRecipient {
				fmt.Fprintf(w, "  Created recipient token account %s\n", tr.RecipientTokenAccount)
			}
			return nil
		},
	}
}

func transferStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the journaled state of a transfer",
		ArgsUsage: "<transfer-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transfer ID")
			}

			rec, err := apiClient(c).GetTransfer(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if wantJSON(c) {
				return render(c, rec)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "ID:        %s\n", rec.ID)
			fmt.Fprintf(w, "Status:    %s\n", rec.Status)
			fmt.Fprintf(w, "Recipient: %s\n", rec.Recipient)
			fmt.Fprintf(w, "Amount:    %d\n", rec.Amount)
			fmt.Fprintf(w, "Signature: %s\n", formatOptional(rec.Signature))
			if rec.ErrorKind != nil {
				fmt.Fprintf(w, "Error:     %s (%s)\n", formatOptional(rec.ErrorMessage), *rec.ErrorKind)
			}
			fmt.Fprintf(w, "Created:   %s\n", rec.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// apiClient builds a wallet service client from the global flags.
func apiClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}

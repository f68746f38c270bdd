package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/broswen/testnetpay/client"
	"github.com/broswen/testnetpay/service/processor"
)

func invoiceCommands() *cli.Command {
	return &cli.Command{
		Name:  "invoice",
		Usage: "Invoice lifecycle commands",
		Subcommands: []*cli.Command{
			invoiceCreateCommand(),
			invoiceGetCommand(),
			invoicePayCommand(),
			invoiceRefundCommand(),
			invoiceAwaitCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func invoiceCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new invoice",
		ArgsUsage: "AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Value:   "USD",
				Usage:   "Invoice currency code",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: AMOUNT")
			}
			amount, err := decimal.NewFromString(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().First(), err)
			}

			inv, err := newClient(c).CreateInvoice(context.Background(), amount, c.String("currency"))
			if err != nil {
				return fmt.Errorf("failed to create invoice: %w", err)
			}

			return printInvoice(c, inv)
		},
	}
}

func invoiceGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get current invoice status",
		ArgsUsage: "INVOICE_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: INVOICE_ID")
			}

			inv, err := newClient(c).GetInvoice(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get invoice: %w", err)
			}

			return printInvoice(c, inv)
		},
	}
}

func invoicePayCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Simulate a payment against an invoice",
		ArgsUsage: "INVOICE_ID AMOUNT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected exactly two arguments: INVOICE_ID AMOUNT")
			}
			amount, err := decimal.NewFromString(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}

			inv, err := newClient(c).SimulatePayment(context.Background(), c.Args().First(), amount)
			if err != nil {
				return fmt.Errorf("failed to simulate payment: %w", err)
			}

			return printInvoice(c, inv)
		},
	}
}

func invoiceRefundCommand() *cli.Command {
	return &cli.Command{
		Name:      "refund",
		Usage:     "Refund part of a paid invoice",
		ArgsUsage: "INVOICE_ID REFUND_ADDRESS AMOUNT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("expected exactly three arguments: INVOICE_ID REFUND_ADDRESS AMOUNT")
			}
			amount, err := decimal.NewFromString(c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(2), err)
			}

			result, err := newClient(c).CreateRefund(context.Background(), c.Args().First(), c.Args().Get(1), amount)
			if err != nil {
				return fmt.Errorf("failed to create refund: %w", err)
			}

			if c.Bool("json") {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal refund result: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Refund issued\n")
			fmt.Printf("  Invoice:        %s\n", result.InvoiceID)
			fmt.Printf("  Refund Address: %s\n", result.RefundAddress)
			fmt.Printf("  Amount:         %s\n", result.Amount)
			return nil
		},
	}
}

func invoiceAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until an invoice reaches a terminal status",
		ArgsUsage: "INVOICE_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   time.Second,
				Usage:   "Polling interval",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Minute,
				Usage: "Maximum time to wait",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter(s) the terminal invoice must satisfy (all must be truthy)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: INVOICE_ID")
			}
			id := c.Args().First()
			jqFilters := c.StringSlice("jq")

			// Compile jq filters up front so bad filters fail before polling
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Waiting for invoice %s to settle or expire...\n", id)
				for _, filter := range jqFilters {
					fmt.Fprintf(os.Stderr, "  jq Filter: %s\n", filter)
				}
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			inv, err := newClient(c).AwaitPaid(ctx, id, c.Duration("interval"))
			if err != nil {
				return fmt.Errorf("failed to await invoice: %w", err)
			}

			if len(compiledJQFilters) > 0 {
				ok, err := invoiceMatchesFilters(inv, compiledJQFilters)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("invoice %s reached status %s but did not match jq filters", id, inv.Status)
				}
			}

			return printInvoice(c, inv)
		},
	}
}

// invoiceMatchesFilters runs the invoice JSON through each compiled filter.
// All filters must produce a truthy first result.
func invoiceMatchesFilters(inv *processor.Invoice, filters []*gojq.Code) (bool, error) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return false, fmt.Errorf("failed to marshal invoice: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

func printInvoice(c *cli.Context, inv *processor.Invoice) error {
	if c.Bool("json") {
		data, err := json.MarshalIndent(inv, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal invoice: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Invoice %s\n", inv.ID)
	fmt.Printf("  Status:          %s\n", inv.Status)
	fmt.Printf("  Amount:          %s %s\n", inv.Amount, inv.Currency)
	fmt.Printf("  Paid:            %s\n", inv.PaidAmount)
	if inv.RefundedAmount.Sign() > 0 {
		fmt.Printf("  Refunded:        %s\n", inv.RefundedAmount)
	}
	fmt.Printf("  Payment Address: %s\n", inv.PaymentAddress)
	fmt.Printf("  Payment URL:     %s\n", inv.PaymentURL)
	fmt.Printf("  Created:         %s\n", inv.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Expires:         %s\n", inv.ExpiresAt.Format(time.RFC3339))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func chainCommands() *cli.Command {
	return &cli.Command{
		Name:  "chain",
		Usage: "Simulated chain inspection commands",
		Subcommands: []*cli.Command{
			mempoolCommand(),
			proofCommand(),
		},
	}
}

func mempoolCommand() *cli.Command {
	return &cli.Command{
		Name:      "mempool",
		Usage:     "Show unconfirmed transactions touching an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: ADDRESS")
			}

			watch, err := newClient(c).WatchMempool(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to watch mempool: %w", err)
			}

			if c.Bool("json") {
				data, err := json.MarshalIndent(watch, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal mempool: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Mempool for %s (%d transactions)\n", watch.Address, len(watch.Mempool))
			for _, tx := range watch.Mempool {
				fmt.Printf("  %s  %s -> %s  amount=%s\n", tx.TxID, tx.Sender, tx.Recipient, tx.Amount)
			}
			return nil
		},
	}
}

func proofCommand() *cli.Command {
	return &cli.Command{
		Name:      "proof",
		Usage:     "Show the inclusion proof for a confirmed transaction",
		ArgsUsage: "TX_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: TX_ID")
			}

			proof, err := newClient(c).PaymentProof(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to fetch proof: %w", err)
			}

			if c.Bool("json") {
				data, err := json.MarshalIndent(proof, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal proof: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Proof for %s\n", proof.TxID)
			fmt.Printf("  Block Index: %d\n", proof.BlockIndex)
			fmt.Printf("  Block Hash:  %s\n", proof.BlockHash)
			fmt.Printf("  Confirmed:   %s\n", proof.ConfirmationTime.Format(time.RFC3339))
			fmt.Printf("  Merkle:      %s\n", proof.MerkleProof)
			return nil
		},
	}
}

package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "kswap"}
	root.PersistentFlags().Bool("json", false, "Output JSON")
	tx := &cobra.Command{Use: "tx", Short: "Transaction commands"}
	status := &cobra.Command{Use: "status", Short: "Look up a receipt", RunE: func(*cobra.Command, []string) error { return nil }}
	status.Flags().String("hash", "", "Transaction hash")
	status.Flags().String("chain", "", "Chain identifier")
	_ = status.MarkFlagRequired("hash")
	tx.AddCommand(status)
	root.AddCommand(tx)

	s, err := Build(root, "tx status")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "kswap tx status" || !s.Runnable {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 2 || s.Flags[0].Name != "chain" || s.Flags[1].Name != "hash" || !s.Flags[1].Required || s.Flags[0].Required {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if len(s.Global) != 0 {
		t.Fatalf("global flags belong to the root only: %+v", s.Global)
	}

	rootSchema, err := Build(root, "")
	if err != nil {
		t.Fatalf("Build root failed: %v", err)
	}
	if len(rootSchema.Global) != 1 || rootSchema.Global[0].Name != "json" {
		t.Fatalf("unexpected global flags: %+v", rootSchema.Global)
	}
	if len(rootSchema.Subcommands) != 1 || rootSchema.Subcommands[0].Runnable {
		t.Fatalf("unexpected subcommands: %+v", rootSchema.Subcommands)
	}

	if _, err := Build(root, "tx missing"); err == nil {
		t.Fatal("expected unknown command error")
	}
}

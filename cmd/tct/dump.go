package main

import (
	"fmt"

	"github.com/colorfulnotion/tct/ledger"
	"github.com/colorfulnotion/tct/tct"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

// dumpTree renders the epochs and blocks of tree, at most limit of each, skipping leaves unless
// commitments is set.
func dumpTree(tree *tct.Eternity, limit int, commitments bool) treeprint.Tree {
	root := treeprint.NewWithRoot(fmt.Sprintf("eternity %s: %d epochs, %d witnessed",
		tree.Digest().Short(), tree.Len(), tree.Witnessed()))

	for i := 0; i < tree.Len(); i++ {
		if i == limit {
			root.AddNode(fmt.Sprintf("... %d more epochs", tree.Len()-limit))
			break
		}
		epoch, ok := tree.EpochAt(uint16(i))
		if !ok {
			root.AddNode(fmt.Sprintf("epoch %d: forgotten", i))
			continue
		}
		eb := root.AddBranch(fmt.Sprintf("epoch %d %s: %d blocks, %d witnessed",
			i, epoch.Digest().Short(), epoch.Len(), epoch.Witnessed()))
		for j := 0; j < epoch.Len(); j++ {
			if j == limit {
				eb.AddNode(fmt.Sprintf("... %d more blocks", epoch.Len()-limit))
				break
			}
			block, ok := epoch.BlockAt(uint16(j))
			if !ok {
				eb.AddNode(fmt.Sprintf("block %d: forgotten", j))
				continue
			}
			label := fmt.Sprintf("block %d %s: %d commitments, %d witnessed",
				j, block.Digest().Short(), block.Len(), block.Witnessed())
			if !commitments || block.Witnessed() == 0 {
				eb.AddNode(label)
				continue
			}
			bb := eb.AddBranch(label)
			for _, c := range block.Commitments() {
				pos, _ := block.PositionOf(c)
				bb.AddNode(fmt.Sprintf("%d %s", pos, tct.CommitmentHex(c)))
			}
		}
	}
	return root
}

func newDumpCmd(s *settings) *cobra.Command {
	var (
		limit       int
		commitments bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the tree structure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withLedger(cmd.Context(), func(l *ledger.Ledger) error {
				l.Tree(func(tree *tct.Eternity) {
					fmt.Fprint(cmd.OutOrStdout(), dumpTree(tree, limit, commitments).String())
				})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 64, "maximum epochs per tree and blocks per epoch to show")
	cmd.Flags().BoolVar(&commitments, "commitments", false, "list witnessed commitments")
	return cmd
}

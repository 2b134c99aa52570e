package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/microforest/config"
	"github.com/YuminosukeSato/microforest/core/forest"
	"github.com/YuminosukeSato/microforest/sklearn/ensemble"
	"github.com/YuminosukeSato/microforest/store/badgerstore"
)

type inspectOptions struct {
	modelDir string
	bagsDB   string
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the artifact, node layout and per-tree shape of an exported forest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.modelDir, "model", "m", "model", "directory holding forest.bin and artifact.yaml")
	cmd.Flags().StringVar(&opts.bagsDB, "bags-db", "", "Badger directory with the recorded bags")
	return cmd
}

func runInspect(cmd *cobra.Command, opts *inspectOptions) error {
	art, err := config.ReadArtifact(filepath.Join(opts.modelDir, ensemble.ArtifactFile))
	if err != nil {
		return err
	}
	f, err := forest.Load(filepath.Join(opts.modelDir, ensemble.ForestFile), art.Layout, uint8(art.Bits), art.NumLabels)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s)\n", art.RunID, art.CreatedAt)
	fmt.Fprintf(out, "trees=%d criterion=%s min_split=%d min_leaf=%d max_depth=%d\n",
		f.Len(), art.Criterion, art.MinSplit, art.MinLeaf, art.MaxDepth)
	fmt.Fprintf(out, "threshold=%.4f score=%.4f metric=%d evaluation=%s\n",
		art.Threshold, art.Score, art.Metric, art.Evaluation)
	fmt.Fprintf(out, "data bits=%d features=%d labels=%d\n", art.Bits, art.NumFeatures, art.NumLabels)
	fmt.Fprintf(out, "layout feature=%d label=%d child=%d total=%d bits\n",
		art.Layout.FeatureBits, art.Layout.LabelBits, art.Layout.ChildBits, art.Layout.Total())

	var bags *badgerstore.Store
	if opts.bagsDB != "" {
		bags, err = badgerstore.Open(badgerstore.Config{Path: opts.bagsDB})
		if err != nil {
			return err
		}
		defer bags.Close()
	}
	for i, t := range f.Trees {
		line := fmt.Sprintf("tree %3d nodes=%4d leaves=%4d depth=%2d", i, t.Len(), t.CountLeaves(), t.Depth())
		if bags != nil {
			if rec, err := bags.Get(i); err == nil {
				line += fmt.Sprintf(" bag=%d nonce=%d hash=%016x", len(rec.IDs), rec.Nonce, rec.Hash)
			}
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

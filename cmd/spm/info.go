package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type infoOptions struct {
	model  string
	pieces bool
}

func newInfoCmd() *cobra.Command {
	opts := &infoOptions{}
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the configuration of a model, and optionally its vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInfo(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.model, "model", "", modelFlagUsage)
	cmd.Flags().BoolVar(&opts.pieces, "pieces", false, "Also list every piece with its type and score")
	return cmd
}

func runInfo(cmd *cobra.Command, opts *infoOptions) error {
	proc, err := loadProcessor(opts.model)
	if err != nil {
		return err
	}
	m := proc.Model()
	normalizer := m.Normalizer.Name
	if normalizer == "" && len(m.Normalizer.PrecompiledCharsmap) > 0 {
		normalizer = "(precompiled)"
	}
	specialID := func(id int) string {
		if id < 0 {
			return "-"
		}
		return fmt.Sprintf("%d %q", id, proc.IDToPiece(id))
	}
	t := newTable("property", "value").Rows(
		[]string{"model type", m.Trainer.ModelType.String()},
		[]string{"vocabulary size", strconv.Itoa(proc.PieceSize())},
		[]string{"unk", specialID(proc.UnkID())},
		[]string{"bos", specialID(proc.BosID())},
		[]string{"eos", specialID(proc.EosID())},
		[]string{"pad", specialID(proc.PadID())},
		[]string{"byte fallback", strconv.FormatBool(m.Trainer.ByteFallback)},
		[]string{"whitespace as suffix", strconv.FormatBool(m.Trainer.TreatWhitespaceAsSuffix)},
		[]string{"normalizer", normalizer},
		[]string{"add dummy prefix", strconv.FormatBool(m.Normalizer.AddDummyPrefix)},
		[]string{"remove extra whitespaces", strconv.FormatBool(m.Normalizer.RemoveExtraWhitespaces)},
		[]string{"escape whitespaces", strconv.FormatBool(m.Normalizer.EscapeWhitespaces)},
		[]string{"denormalizer", strconv.FormatBool(m.Denormalizer != nil)},
		[]string{"self-test samples", strconv.Itoa(len(m.SelfTest))},
	)
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, t.Render()); err != nil {
		return err
	}
	if !opts.pieces {
		return nil
	}

	rows := make([][]string, len(m.Pieces))
	for id, p := range m.Pieces {
		rows[id] = []string{strconv.Itoa(id), strconv.Quote(p.Piece), p.Type.String(), strconv.FormatFloat(float64(p.Score), 'g', -1, 32)}
	}
	_, err = fmt.Fprintln(out, newTable("id", "piece", "type", "score").Rows(rows...).Render())
	return err
}

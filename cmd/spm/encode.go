package main

import (
	"strconv"
	"strings"

	"github.com/gomlx/spprocessor/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type encodeOptions struct {
	model        string
	outputFormat string
	output       string
	extraOptions string
	nbest        int
	sample       bool
	nbestSize    int
	alpha        float64
	seed         uint64
}

func newEncodeCmd() *cobra.Command {
	opts := &encodeOptions{}
	cmd := &cobra.Command{
		Use:   "encode [file...]",
		Short: "Encode text lines into pieces, with their offsets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.model, "model", "", modelFlagUsage)
	flags.StringVar(&opts.outputFormat, "output_format", "piece", "Output format: "+strings.Join(outputFormats, ", "))
	flags.StringVar(&opts.output, "output", "", "Output file (default stdout)")
	flags.StringVar(&opts.extraOptions, "extra_options", "", `Colon separated encoder options, e.g. "bos:eos" or "reverse"`)
	flags.IntVar(&opts.nbest, "nbest", 0, "Output the n best segmentations of each line (Unigram models)")
	flags.BoolVar(&opts.sample, "sample", false, "Sample the segmentations (subword regularization)")
	flags.IntVar(&opts.nbestSize, "nbest_size", -1, "Sampling: number of best segmentations to sample from, -1 samples over all")
	flags.Float64Var(&opts.alpha, "alpha", 0.5, "Sampling: smoothing parameter, or dropout probability for BPE models")
	flags.Uint64Var(&opts.seed, "seed", 0, "Sampling: random seed")
	return cmd
}

func runEncode(cmd *cobra.Command, opts *encodeOptions, files []string) error {
	if opts.nbest > 0 && opts.sample {
		return errors.New("--nbest and --sample can't be used together")
	}
	proc, err := loadProcessor(opts.model)
	if err != nil {
		return err
	}
	if err := proc.SetEncodeExtraOptions(opts.extraOptions); err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		proc.SetRandomSeed(opts.seed)
	}

	w, closeOutput, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}
	results, err := newResultWriter(opts.outputFormat, w)
	if err != nil {
		_ = closeOutput()
		return err
	}

	err = forEachLine(cmd, files, func(lineNum int, line string) error {
		return encodeLine(proc, opts, results, lineNum, line)
	})
	if closeErr := results.Close(); err == nil {
		err = closeErr
	}
	if closeErr := closeOutput(); err == nil {
		err = closeErr
	}
	return err
}

func encodeLine(proc *sentencepiece.Processor, opts *encodeOptions, results resultWriter, lineNum int, line string) error {
	switch {
	case opts.nbest > 0:
		nbests, err := proc.NBestEncode(line, opts.nbest)
		if err != nil {
			return err
		}
		for rank, res := range nbests {
			if err := results.Write(lineNum, rank, res); err != nil {
				return err
			}
		}
		return nil
	case opts.sample:
		res, err := proc.SampleEncode(line, opts.nbestSize, opts.alpha)
		if err != nil {
			return err
		}
		return results.Write(lineNum, 0, res)
	}
	if tw, ok := results.(*textWriter); ok {
		tokens, err := compressedTokens(proc, opts.outputFormat, line)
		if err != nil {
			return err
		}
		return tw.WriteTokens(tokens)
	}
	res, err := proc.Encode(line)
	if err != nil {
		return err
	}
	return results.Write(lineNum, 0, res)
}

// compressedTokens returns the pieces or ids of line as printed by the piece and id formats,
// runs of identical tokens written with the repeat markers. Ids of models without the marker
// pieces are printed uncompressed, as DecodeIDs reads them.
func compressedTokens(proc *sentencepiece.Processor, format, line string) ([]string, error) {
	if format == "piece" {
		return proc.EncodePieces(line)
	}
	var ids []int
	if proc.HasRepeatIDs() {
		var err error
		if ids, err = proc.EncodeIDs(line); err != nil {
			return nil, err
		}
	} else {
		res, err := proc.Encode(line)
		if err != nil {
			return nil, err
		}
		ids = res.IDs()
	}
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = strconv.Itoa(id)
	}
	return tokens, nil
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type decodeOptions struct {
	model        string
	inputFormat  string
	output       string
	extraOptions string
}

func newDecodeCmd() *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [file...]",
		Short: "Decode lines of space separated pieces or ids back into text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.model, "model", "", modelFlagUsage)
	flags.StringVar(&opts.inputFormat, "input_format", "piece", "Input format: piece or id")
	flags.StringVar(&opts.output, "output", "", "Output file (default stdout)")
	flags.StringVar(&opts.extraOptions, "extra_options", "", `Colon separated decoder options, e.g. "reverse"`)
	return cmd
}

func runDecode(cmd *cobra.Command, opts *decodeOptions, files []string) error {
	if opts.inputFormat != "piece" && opts.inputFormat != "id" {
		return errors.Errorf("unknown --input_format %q, valid values are piece, id", opts.inputFormat)
	}
	proc, err := loadProcessor(opts.model)
	if err != nil {
		return err
	}
	if err := proc.SetDecodeExtraOptions(opts.extraOptions); err != nil {
		return err
	}
	w, closeOutput, err := openOutput(cmd, opts.output)
	if err != nil {
		return err
	}

	err = forEachLine(cmd, files, func(_ int, line string) error {
		fields := strings.Fields(line)
		var text string
		var err error
		if opts.inputFormat == "piece" {
			text, err = proc.DecodePieces(fields)
		} else {
			ids := make([]int, len(fields))
			for i, field := range fields {
				if ids[i], err = strconv.Atoi(field); err != nil {
					return errors.Errorf("invalid id %q", field)
				}
			}
			text, err = proc.DecodeIDs(ids)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, text)
		return err
	})
	if closeErr := closeOutput(); err == nil {
		err = closeErr
	}
	return err
}

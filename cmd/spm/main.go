// spm encodes and decodes text with a SentencePiece model, keeping the offsets of every piece in
// the original text.
//
// Usage:
//
//	spm encode --model=m.model [--output_format=piece|id|json|table|parquet] [file...]
//	spm decode --model=m.model [--input_format=piece|id] [file...]
//	spm info --model=m.model [--pieces]
//
// --model accepts SentencePiece ".model" files, GGUF files (the tokenizer embedded in the
// model metadata) and HuggingFace "tokenizer.json" files of SentencePiece tokenizers. Input is
// read line by line from the given files, or from stdin.
package main

import (
	"bufio"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/spprocessor/models/gguf"
	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/hftokenizer"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spm",
		Short:         "SentencePiece encoder/decoder that keeps track of piece offsets",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(newEncodeCmd(), newDecodeCmd(), newInfoCmd())
	return rootCmd
}

const modelFlagUsage = "SentencePiece .model, GGUF .gguf or HuggingFace tokenizer .json file"

// loadProcessor loads the model at path according to its extension: ".gguf" files through their
// tokenizer metadata, ".json" files as HuggingFace tokenizers, anything else as a serialized
// SentencePiece model.
func loadProcessor(path string) (*sentencepiece.Processor, error) {
	if path == "" {
		return nil, errors.New("--model is required")
	}
	var convert func(path string) (*spmodel.Model, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gguf":
		convert = gguf.LoadModel
	case ".json":
		convert = hftokenizer.LoadModel
	default:
		return sentencepiece.NewFromFile(path)
	}
	m, err := convert(path)
	if err != nil {
		return nil, err
	}
	return sentencepiece.New(m)
}

// maxLineSize bounds the length of one input line.
const maxLineSize = 16 << 20

// forEachLine calls fn with every line of the given files, or of stdin if there are none.
// Line numbers start at 1 and continue across files.
func forEachLine(cmd *cobra.Command, files []string, fn func(lineNum int, line string) error) error {
	lineNum := 0
	scan := func(r io.Reader, name string) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			lineNum++
			if err := fn(lineNum, scanner.Text()); err != nil {
				return errors.WithMessagef(err, "%s:%d", name, lineNum)
			}
		}
		return errors.Wrapf(scanner.Err(), "reading %s", name)
	}
	if len(files) == 0 {
		return scan(cmd.InOrStdin(), "stdin")
	}
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return errors.Wrapf(err, "can't open input")
		}
		err = scan(f, file)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// openOutput returns where to write the results: the file given by path, or the command output.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't create output")
	}
	return f, f.Close, nil
}

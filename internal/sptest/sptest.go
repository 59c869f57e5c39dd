// Package sptest provides small model descriptors for tests.
package sptest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/spprocessor/models/spmodel"
)

// Ids of the pieces shared by the fixtures.
const (
	UnkID = 0
	BosID = 1
	EosID = 2
	PadID = 3

	// FirstByteID is the id of "<0x00>"; byte b has id FirstByteID+b.
	FirstByteID = 4

	StartRepeatID = FirstByteID + 256
	EndRepeatID   = StartRepeatID + 1

	// FirstDigitID is the id of "0"; digit d has id FirstDigitID+d.
	FirstDigitID = EndRepeatID + 1
)

// Words with their own piece in UnigramModel, with scores.
var unigramWords = []spmodel.Piece{
	{Piece: "▁", Score: -3},
	{Piece: "▁the", Score: -1},
	{Piece: "▁cat", Score: -1.5},
	{Piece: "▁hello", Score: -1},
	{Piece: "▁world", Score: -1.2},
	{Piece: "▁a", Score: -2},
	{Piece: "hello", Score: -2},
	{Piece: "he", Score: -3},
	{Piece: "ll", Score: -3},
	{Piece: "▁he", Score: -2.5},
}

func reserved() []spmodel.Piece {
	pieces := []spmodel.Piece{
		{Piece: "<unk>", Type: spmodel.TypeUnknown},
		{Piece: "<s>", Type: spmodel.TypeControl},
		{Piece: "</s>", Type: spmodel.TypeControl},
		{Piece: "<pad>", Type: spmodel.TypeControl},
	}
	for b := range 256 {
		pieces = append(pieces, spmodel.Piece{Piece: fmt.Sprintf("<0x%02X>", b), Type: spmodel.TypeByte})
	}
	pieces = append(pieces,
		spmodel.Piece{Piece: "(#startrepeat)", Type: spmodel.TypeUserDefined},
		spmodel.Piece{Piece: "(#endrepeat)", Type: spmodel.TypeUserDefined},
	)
	for d := range 10 {
		pieces = append(pieces, spmodel.Piece{Piece: fmt.Sprint(d), Score: -5, Type: spmodel.TypeNormal})
	}
	return pieces
}

func letters(score float32) []spmodel.Piece {
	var pieces []spmodel.Piece
	for c := 'a'; c <= 'z'; c++ {
		pieces = append(pieces, spmodel.Piece{Piece: string(c), Score: score, Type: spmodel.TypeNormal})
	}
	for _, c := range ".,!" {
		pieces = append(pieces, spmodel.Piece{Piece: string(c), Score: score, Type: spmodel.TypeNormal})
	}
	return pieces
}

// UnigramModel returns a Unigram descriptor with byte fallback, the repeat markers and digits,
// all lower case letters and a few words. It uses the default normalizer options with the
// identity normalization.
func UnigramModel() *spmodel.Model {
	pieces := reserved()
	for _, p := range unigramWords {
		p.Type = spmodel.TypeNormal
		pieces = append(pieces, p)
	}
	pieces = append(pieces, letters(-4)...)

	normalizer := spmodel.DefaultNormalizerSpec()
	normalizer.Name = "identity"
	trainer := spmodel.DefaultTrainerSpec()
	trainer.ByteFallback = true
	return &spmodel.Model{
		Pieces:     pieces,
		Trainer:    trainer,
		Normalizer: normalizer,
	}
}

// BPEModel returns a BPE descriptor with byte fallback, whose merges build "▁low", "▁lower"
// and "est". Its normalizer only escapes white spaces.
func BPEModel() *spmodel.Model {
	pieces := reserved()
	merges := []spmodel.Piece{
		{Piece: "lo", Score: -1},
		{Piece: "▁lo", Score: -2},
		{Piece: "▁low", Score: -3},
		{Piece: "er", Score: -4},
		{Piece: "▁lower", Score: -5},
		{Piece: "es", Score: -6},
		{Piece: "est", Score: -7},
		{Piece: "▁", Score: -8},
	}
	for _, p := range merges {
		p.Type = spmodel.TypeNormal
		pieces = append(pieces, p)
	}
	pieces = append(pieces, letters(-20)...)

	trainer := spmodel.DefaultTrainerSpec()
	trainer.ModelType = spmodel.BPE
	trainer.ByteFallback = true
	return &spmodel.Model{
		Pieces:  pieces,
		Trainer: trainer,
		Normalizer: spmodel.NormalizerSpec{
			Name:              "identity",
			EscapeWhitespaces: true,
		},
	}
}

// WriteModel writes m to a temporary "tokenizer.model" file and returns its path.
func WriteModel(t testing.TB, m *spmodel.Model) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.model")
	if err := os.WriteFile(path, spmodel.Marshal(m), 0644); err != nil {
		t.Fatalf("failed writing model: %v", err)
	}
	return path
}

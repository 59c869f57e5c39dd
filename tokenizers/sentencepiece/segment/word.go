package segment

import (
	"math/rand/v2"
	"unicode/utf8"
)

// WordModel splits the text into whitespace delimited words, each one a piece.
type WordModel struct {
	vocab  *Vocab
	suffix bool
}

func (w *WordModel) Vocab() *Vocab { return w.vocab }
func (w *WordModel) IsNBestEncodeAvailable() bool { return false }
func (w *WordModel) IsSampleEncodeAvailable() bool { return false }
func (w *WordModel) NBestEncode(string, int) []Scored { return nil }
func (w *WordModel) VerifyOutputsEquivalent(e, a string) bool { return exactMatch(e, a) }

func (w *WordModel) SampleEncode(string, float64, *rand.Rand) []Encoded { return nil }

// Encode implements Model.
func (w *WordModel) Encode(normalized string) []Encoded {
	words := splitWords(normalized, w.suffix)
	pieces := make([]Encoded, len(words))
	for i, word := range words {
		pieces[i] = Encoded{Piece: word, ID: w.vocab.PieceToID(word)}
	}
	return pieces
}

// CharModel splits the text into runes, each one a piece.
type CharModel struct {
	vocab *Vocab
}

func (c *CharModel) Vocab() *Vocab { return c.vocab }
func (c *CharModel) IsNBestEncodeAvailable() bool { return false }
func (c *CharModel) IsSampleEncodeAvailable() bool { return false }
func (c *CharModel) NBestEncode(string, int) []Scored { return nil }
func (c *CharModel) VerifyOutputsEquivalent(e, a string) bool { return exactMatch(e, a) }

func (c *CharModel) SampleEncode(string, float64, *rand.Rand) []Encoded { return nil }

// Encode implements Model.
func (c *CharModel) Encode(normalized string) []Encoded {
	pieces := make([]Encoded, 0, utf8.RuneCountInString(normalized))
	for pos := 0; pos < len(normalized); {
		_, size := utf8.DecodeRuneInString(normalized[pos:])
		piece := normalized[pos : pos+size]
		pieces = append(pieces, Encoded{Piece: piece, ID: c.vocab.PieceToID(piece)})
		pos += size
	}
	return pieces
}

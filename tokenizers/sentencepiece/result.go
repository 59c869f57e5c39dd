package sentencepiece

import "github.com/gomlx/spprocessor/tokenizers/api"

// Piece is one annotated token.
//
// On encoding, Begin and End are byte offsets of Surface in the input text; on decoding they
// are offsets in the decoded text. Control pieces have Begin == End and an empty Surface.
type Piece struct {
	Piece   string
	ID      int
	Surface string
	Begin   int
	End     int
}

// Result is an annotated encoding or decoding.
type Result struct {
	// Text is the input text for an encoding, the decoded text for a decoding.
	Text   string
	Pieces []Piece

	// Score is set by NBestEncode.
	Score float64
}

// IDs returns the ids of the pieces.
func (r *Result) IDs() []int {
	ids := make([]int, len(r.Pieces))
	for i, piece := range r.Pieces {
		ids[i] = piece.ID
	}
	return ids
}

// PieceStrings returns the pieces as strings.
func (r *Result) PieceStrings() []string {
	pieces := make([]string, len(r.Pieces))
	for i, piece := range r.Pieces {
		pieces[i] = piece.Piece
	}
	return pieces
}

// Spans returns the byte span of each piece.
func (r *Result) Spans() []api.TokenSpan {
	spans := make([]api.TokenSpan, len(r.Pieces))
	for i, piece := range r.Pieces {
		spans[i] = api.TokenSpan{Start: piece.Begin, End: piece.End}
	}
	return spans
}

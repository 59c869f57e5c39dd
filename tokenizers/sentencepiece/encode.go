package sentencepiece

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/repeat"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/segment"
	"github.com/pkg/errors"
)

const (
	maxNBestSize       = 1024
	maxSampleNBestSize = 512
)

// Encode normalizes and segments text, and returns the pieces annotated with their byte spans
// in text.
func (p *Processor) Encode(text string) (*Result, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	normalized, normToOrig, err := p.normalizer.Normalize(text)
	if err != nil {
		return nil, err
	}
	return p.annotate(text, normalized, normToOrig, p.segmenter.Encode(normalized))
}

// EncodePieces returns the pieces of text, with runs of identical pieces compressed by the
// repeat markers.
func (p *Processor) EncodePieces(text string) ([]string, error) {
	res, err := p.Encode(text)
	if err != nil {
		return nil, err
	}
	return repeat.Pieces().Compress(res.PieceStrings()), nil
}

// EncodeIDs returns the ids of text, with runs of identical ids compressed by the repeat markers.
// If the vocabulary can't represent the markers, a text with runs fails with api.ErrConfiguration.
func (p *Processor) EncodeIDs(text string) ([]int, error) {
	res, err := p.Encode(text)
	if err != nil {
		return nil, err
	}
	ids := res.IDs()
	if !repeat.HasRun(ids) {
		return ids, nil
	}
	if p.idScheme == nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "repeated ids in %q need the pieces %q, %q and the digits in the vocabulary",
			text, repeat.StartMarker, repeat.EndMarker)
	}
	return p.idScheme.Compress(ids), nil
}

// NBestEncode returns the n best segmentations of text, best first, each with its score.
// n is clamped to [1, 1024].
func (p *Processor) NBestEncode(text string, n int) ([]*Result, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	if !p.segmenter.IsNBestEncodeAvailable() {
		return nil, errors.Wrapf(api.ErrConfiguration, "n-best encoding is not available for %s models", p.model.Trainer.ModelType)
	}
	n = min(max(n, 1), maxNBestSize)
	normalized, normToOrig, err := p.normalizer.Normalize(text)
	if err != nil {
		return nil, err
	}
	nbests := p.segmenter.NBestEncode(normalized, n)
	if len(nbests) == 0 {
		return nil, errors.Wrapf(api.ErrIntegrity, "no n-best segmentation for %q", text)
	}
	results := make([]*Result, 0, len(nbests))
	for _, nbest := range nbests {
		res, err := p.annotate(text, normalized, normToOrig, nbest.Pieces)
		if err != nil {
			return nil, err
		}
		res.Score = nbest.Score
		results = append(results, res)
	}
	return results, nil
}

// SampleEncode returns a sampled segmentation of text, drawn with the processor's generator.
//
// With nbestSize 0 or 1 it returns the best segmentation. With nbestSize > 1 one of the
// nbestSize best segmentations is drawn with probability proportional to exp(alpha*score).
// With nbestSize < 0, or if the model has no n-best segmentation, the model samples over all
// segmentations (BPE-dropout probability alpha, for BPE models). nbestSize must be <= 512.
func (p *Processor) SampleEncode(text string, nbestSize int, alpha float64) (*Result, error) {
	p.muRand.Lock()
	defer p.muRand.Unlock()
	return p.SampleEncodeWithRand(text, nbestSize, alpha, p.rng)
}

// SampleEncodeWithRand is SampleEncode drawing from rng, which must not be used concurrently.
func (p *Processor) SampleEncodeWithRand(text string, nbestSize int, alpha float64, rng *rand.Rand) (*Result, error) {
	if err := p.checkInitialized(); err != nil {
		return nil, err
	}
	if nbestSize > maxSampleNBestSize {
		return nil, errors.Wrapf(api.ErrConfiguration, "nbest size %d is larger than %d", nbestSize, maxSampleNBestSize)
	}
	normalized, normToOrig, err := p.normalizer.Normalize(text)
	if err != nil {
		return nil, err
	}

	var encoded []segment.Encoded
	switch {
	case nbestSize == 0 || nbestSize == 1:
		encoded = p.segmenter.Encode(normalized)
	case nbestSize > 1 && p.segmenter.IsNBestEncodeAvailable():
		nbests := p.segmenter.NBestEncode(normalized, nbestSize)
		if len(nbests) == 0 {
			return nil, errors.Wrapf(api.ErrIntegrity, "no n-best segmentation for %q", text)
		}
		encoded = nbests[drawScored(nbests, alpha, rng)].Pieces
	case p.segmenter.IsSampleEncodeAvailable():
		encoded = p.segmenter.SampleEncode(normalized, alpha, rng)
	default:
		return nil, errors.Wrapf(api.ErrConfiguration, "sampling is not available for %s models", p.model.Trainer.ModelType)
	}
	return p.annotate(text, normalized, normToOrig, encoded)
}

// drawScored returns the index of a segmentation drawn with probability proportional to
// exp(alpha*score).
func drawScored(nbests []segment.Scored, alpha float64, rng *rand.Rand) int {
	maxScore := math.Inf(-1)
	for _, nbest := range nbests {
		maxScore = max(maxScore, alpha*nbest.Score)
	}
	weights := make([]float64, len(nbests))
	total := 0.0
	for i, nbest := range nbests {
		weights[i] = math.Exp(alpha*nbest.Score - maxScore)
		total += weights[i]
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(nbests) - 1
}

// annotate converts a segmentation of normalized into pieces annotated with their spans in the
// original text, using the offset map normToOrig.
//
// Unknown pieces are decomposed into byte pieces if the model has byte fallback; otherwise
// consecutive unknown pieces are merged into one.
func (p *Processor) annotate(text, normalized string, normToOrig []int, encoded []segment.Encoded) (*Result, error) {
	v := p.vocab
	pieces := make([]Piece, 0, len(encoded))
	consumed := 0
	isPrevUnk := false
	for _, e := range encoded {
		if e.Piece == "" {
			return nil, errors.Wrapf(api.ErrIntegrity, "empty piece (id %d) in the segmentation of %q", e.ID, text)
		}
		isUnk := v.IsUnknown(e.ID)
		if v.IsControl(e.ID) {
			// No surface: Begin == End.
			pos := normToOrig[consumed]
			pieces = append(pieces, Piece{Piece: e.Piece, ID: e.ID, Begin: pos, End: pos})
			isPrevUnk = isUnk
			continue
		}

		begin, end := consumed, consumed+len(e.Piece)
		if end >= len(normToOrig) {
			return nil, errors.Wrapf(api.ErrIntegrity, "piece %q at normalized offset %d goes past the normalized text (%d bytes)",
				e.Piece, begin, len(normalized))
		}
		origBegin, origEnd := normToOrig[begin], normToOrig[end]
		if origBegin > origEnd || origEnd > len(text) {
			return nil, errors.Wrapf(api.ErrIntegrity, "invalid span [%d, %d) for piece %q in a text of %d bytes",
				origBegin, origEnd, e.Piece, len(text))
		}
		surface := text[origBegin:origEnd]

		switch {
		case isUnk && v.ByteFallback():
			for i := 0; i < len(e.Piece); i++ {
				bytePiece := segment.ByteToPiece(e.Piece[i])
				record := Piece{Piece: bytePiece, ID: v.PieceToID(bytePiece), Begin: origBegin, End: origBegin}
				if i == len(e.Piece)-1 {
					record.Surface, record.End = surface, origEnd
				}
				pieces = append(pieces, record)
			}
		case isUnk && isPrevUnk:
			last := &pieces[len(pieces)-1]
			last.Piece += e.Piece
			last.Surface += surface
			last.End = origEnd
		default:
			pieces = append(pieces, Piece{Piece: e.Piece, ID: e.ID, Surface: surface, Begin: origBegin, End: origEnd})
		}
		consumed = end
		isPrevUnk = isUnk
	}
	if consumed != len(normalized) {
		return nil, errors.Wrapf(api.ErrIntegrity, "segmentation consumed %d of the %d normalized bytes of %q",
			consumed, len(normalized), text)
	}
	return &Result{
		Text:   text,
		Pieces: p.applyEncodeExtraOptions(text, pieces),
	}, nil
}

// Package hftokenizer converts HuggingFace tokenizer.json files of SentencePiece tokenizers into
// model descriptors.
//
// The HuggingFace Tokenizers library (the "fast" tokenizers) stores converted SentencePiece
// models as Unigram models (T5 and friends) or as BPE models with byte fallback (Llama and
// friends), with the SentencePiece normalization expressed as a chain of normalizers and
// pre-tokenizers. Other tokenizers (WordPiece, byte-level BPE) are rejected.
package hftokenizer

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"

	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece/segment"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TokenizerJSON represents the parts of HuggingFace's tokenizer.json used by the conversion.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Model        Model         `json:"model"`
}

// AddedToken represents a token added to the vocabulary.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type                string       `json:"type"`
	Normalizers         []Normalizer `json:"normalizers"`
	Pattern             *Pattern     `json:"pattern"`
	Content             string       `json:"content"`
	Prepend             string       `json:"prepend"`
	PrecompiledCharsmap string       `json:"precompiled_charsmap"`
}

// Pattern for regex-based operations.
type Pattern struct {
	Regex  string `json:"Regex,omitempty"`
	String string `json:"String,omitempty"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace *bool          `json:"add_prefix_space"`
	PrependScheme  string         `json:"prepend_scheme"`
	Replacement    string         `json:"replacement"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers"`
}

// Model represents the tokenizer model. Vocab is a list of [piece, score] pairs for Unigram
// models and a piece to id map for BPE models.
type Model struct {
	Type         string          `json:"type"`
	Vocab        json.RawMessage `json:"vocab"`
	Merges       json.RawMessage `json:"merges"`
	UnkToken     *string         `json:"unk_token"`
	UnkID        *int            `json:"unk_id"`
	ByteFallback bool            `json:"byte_fallback"`
}

// LoadModel reads the tokenizer.json file at path and converts it into a model descriptor.
func LoadModel(path string) (*spmodel.Model, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "failed to read tokenizer.json file %q: %v", path, err)
	}
	m, err := Convert(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "while converting %q", path)
	}
	klog.V(1).Infof("Converted %s tokenizer from %q: %d pieces", m.Trainer.ModelType, path, len(m.Pieces))
	return m, nil
}

// Convert converts tokenizer.json content into a model descriptor. Tokenizers that are not
// SentencePiece tokenizers fail with api.ErrConfiguration.
func Convert(content []byte) (*spmodel.Model, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "failed to parse tokenizer.json: %v", err)
	}
	m := &spmodel.Model{
		Trainer: spmodel.DefaultTrainerSpec(),
		Normalizer: spmodel.NormalizerSpec{
			Name: "identity",
		},
	}

	var err error
	switch tj.Model.Type {
	case "Unigram":
		m.Trainer.ModelType = spmodel.Unigram
		err = convertUnigram(&tj.Model, m)
	case "BPE":
		m.Trainer.ModelType = spmodel.BPE
		err = convertBPE(&tj.Model, m)
	default:
		err = errors.Wrapf(api.ErrConfiguration, "model type %q is not a SentencePiece model", tj.Model.Type)
	}
	if err != nil {
		return nil, err
	}
	m.Trainer.ByteFallback = tj.Model.ByteFallback
	if err := setPieceTypes(&tj, m); err != nil {
		return nil, err
	}

	c := &normalizerConverter{spec: &m.Normalizer}
	if tj.Normalizer != nil {
		if err := c.normalizer(tj.Normalizer); err != nil {
			return nil, err
		}
	}
	if tj.PreTokenizer != nil {
		if err := c.preTokenizer(tj.PreTokenizer); err != nil {
			return nil, err
		}
	}
	if c.lowercase {
		switch m.Normalizer.Name {
		case "nfkc", "nmt_nfkc":
			m.Normalizer.Name += "_cf"
		default:
			return nil, errors.Wrapf(api.ErrConfiguration, "lowercase normalizer without NFKC normalization is not supported")
		}
	}
	return m, nil
}

func convertUnigram(model *Model, m *spmodel.Model) error {
	var vocab [][2]any
	if err := json.Unmarshal(model.Vocab, &vocab); err != nil {
		return errors.Wrapf(api.ErrConfiguration, "unigram vocab must be a list of [piece, score]: %v", err)
	}
	m.Pieces = make([]spmodel.Piece, len(vocab))
	for id, entry := range vocab {
		piece, ok := entry[0].(string)
		score, ok2 := entry[1].(float64)
		if !ok || !ok2 {
			return errors.Wrapf(api.ErrConfiguration, "unigram vocab entry %d is not a [piece, score] pair: %v", id, entry)
		}
		m.Pieces[id] = spmodel.Piece{Piece: piece, Score: float32(score), Type: spmodel.TypeNormal}
	}
	if model.UnkID != nil {
		if *model.UnkID < 0 || *model.UnkID >= len(vocab) {
			return errors.Wrapf(api.ErrConfiguration, "unk_id %d out of range", *model.UnkID)
		}
		m.Trainer.UnkPiece = m.Pieces[*model.UnkID].Piece
	}
	return nil
}

// convertBPE sets the pieces of a BPE model. Scores follow the merge order: the piece created by
// the i-th merge scores -i, so that native merging reproduces the merge order; the other pieces
// score below every merge, in id order.
func convertBPE(model *Model, m *spmodel.Model) error {
	var vocab map[string]int
	if err := json.Unmarshal(model.Vocab, &vocab); err != nil {
		return errors.Wrapf(api.ErrConfiguration, "BPE vocab must map pieces to ids: %v", err)
	}
	merges, err := parseMerges(model.Merges)
	if err != nil {
		return err
	}
	m.Pieces = make([]spmodel.Piece, len(vocab))
	for piece, id := range vocab {
		if id < 0 || id >= len(vocab) || m.Pieces[id].Piece != "" {
			return errors.Wrapf(api.ErrConfiguration, "BPE vocab ids must be 0..%d, got %d for %q", len(vocab)-1, id, piece)
		}
		m.Pieces[id] = spmodel.Piece{Piece: piece, Score: -float32(len(merges) + id), Type: spmodel.TypeNormal}
	}
	for rank, merge := range merges {
		if id, found := vocab[merge[0]+merge[1]]; found {
			m.Pieces[id].Score = max(m.Pieces[id].Score, -float32(rank))
		}
	}
	if model.UnkToken != nil {
		m.Trainer.UnkPiece = *model.UnkToken
	}
	return nil
}

// parseMerges accepts both serializations of merges: "left right" strings and [left, right] pairs.
func parseMerges(raw json.RawMessage) ([][2]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal(raw, &pairs); err == nil {
		return pairs, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "invalid BPE merges: %v", err)
	}
	pairs = make([][2]string, len(lines))
	for i, line := range lines {
		left, right, found := strings.Cut(line, " ")
		if !found {
			return nil, errors.Wrapf(api.ErrConfiguration, "invalid BPE merge %q", line)
		}
		pairs[i] = [2]string{left, right}
	}
	return pairs, nil
}

// setPieceTypes derives the piece types: the unknown token, the byte pieces when byte fallback is
// on, added tokens (special ones are control pieces), and NORMAL for everything else.
// tokenizer.json doesn't name the bos/eos/pad tokens: they keep the default piece names.
func setPieceTypes(tj *TokenizerJSON, m *spmodel.Model) error {
	unkFound := false
	for id := range m.Pieces {
		p := &m.Pieces[id]
		switch {
		case p.Piece == m.Trainer.UnkPiece:
			p.Type = spmodel.TypeUnknown
			unkFound = true
		case m.Trainer.ByteFallback && isBytePiece(p.Piece):
			p.Type = spmodel.TypeByte
		}
	}
	if !unkFound {
		return errors.Wrapf(api.ErrConfiguration, "unknown token %q is not in the vocabulary", m.Trainer.UnkPiece)
	}

	for _, at := range tj.AddedTokens {
		if at.ID < 0 || at.ID >= len(m.Pieces) || m.Pieces[at.ID].Piece != at.Content {
			return errors.Wrapf(api.ErrConfiguration, "added token %q doesn't match vocabulary id %d", at.Content, at.ID)
		}
		p := &m.Pieces[at.ID]
		if p.Type == spmodel.TypeUnknown || p.Type == spmodel.TypeByte {
			continue
		}
		if !at.Special {
			p.Type = spmodel.TypeUserDefined
			continue
		}
		p.Type = spmodel.TypeControl
	}
	return nil
}

func isBytePiece(piece string) bool {
	_, ok := segment.PieceToByte(piece)
	return ok
}

// normalizerConverter folds the HuggingFace normalizers and pre-tokenizers into a normalizer
// spec.
type normalizerConverter struct {
	spec      *spmodel.NormalizerSpec
	lowercase bool
}

// multipleSpaces are the Replace patterns that collapse runs of spaces.
var multipleSpaces = map[string]bool{" {2,}": true, " +": true, "  +": true}

func (c *normalizerConverter) normalizer(n *Normalizer) error {
	switch n.Type {
	case "Sequence":
		for i := range n.Normalizers {
			if err := c.normalizer(&n.Normalizers[i]); err != nil {
				return err
			}
		}
	case "Precompiled":
		charsmap, err := base64.StdEncoding.DecodeString(n.PrecompiledCharsmap)
		if err != nil {
			return errors.Wrapf(api.ErrConfiguration, "invalid precompiled_charsmap: %v", err)
		}
		c.spec.Name = "nmt_nfkc"
		c.spec.PrecompiledCharsmap = charsmap
	case "NFKC", "NFC", "NFD", "NFKD":
		c.spec.Name = strings.ToLower(n.Type)
	case "Lowercase":
		c.lowercase = true
	case "Prepend":
		if n.Prepend != "▁" {
			return errors.Wrapf(api.ErrConfiguration, "unsupported Prepend normalizer %q", n.Prepend)
		}
		c.spec.AddDummyPrefix = true
	case "Replace":
		if n.Pattern == nil {
			return errors.Wrapf(api.ErrConfiguration, "Replace normalizer without pattern")
		}
		switch {
		case n.Pattern.String == " " && n.Content == "▁":
			c.spec.EscapeWhitespaces = true
		case multipleSpaces[n.Pattern.Regex] && n.Content == " ":
			c.spec.RemoveExtraWhitespaces = true
		default:
			return errors.Wrapf(api.ErrConfiguration, "unsupported Replace normalizer %+v -> %q", *n.Pattern, n.Content)
		}
	case "Strip":
		c.spec.RemoveExtraWhitespaces = true
	default:
		return errors.Wrapf(api.ErrConfiguration, "unsupported normalizer %q", n.Type)
	}
	return nil
}

func (c *normalizerConverter) preTokenizer(pt *PreTokenizer) error {
	switch pt.Type {
	case "Sequence":
		for i := range pt.PreTokenizers {
			if err := c.preTokenizer(&pt.PreTokenizers[i]); err != nil {
				return err
			}
		}
	case "WhitespaceSplit":
		c.spec.RemoveExtraWhitespaces = true
	case "Metaspace":
		if pt.Replacement != "" && pt.Replacement != "▁" {
			return errors.Wrapf(api.ErrConfiguration, "unsupported Metaspace replacement %q", pt.Replacement)
		}
		c.spec.EscapeWhitespaces = true
		switch {
		case pt.PrependScheme == "always" || pt.PrependScheme == "first":
			c.spec.AddDummyPrefix = true
		case pt.PrependScheme == "" && pt.AddPrefixSpace != nil:
			c.spec.AddDummyPrefix = *pt.AddPrefixSpace
		}
	default:
		return errors.Wrapf(api.ErrConfiguration, "unsupported pre-tokenizer %q", pt.Type)
	}
	return nil
}

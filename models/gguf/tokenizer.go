package gguf

import (
	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tokenizer metadata keys, as written by llama.cpp.
const (
	KeyTokenizerModel         = "tokenizer.ggml.model"
	KeyTokens                 = "tokenizer.ggml.tokens"
	KeyScores                 = "tokenizer.ggml.scores"
	KeyTokenType              = "tokenizer.ggml.token_type"
	KeyBosID                  = "tokenizer.ggml.bos_token_id"
	KeyEosID                  = "tokenizer.ggml.eos_token_id"
	KeyUnkID                  = "tokenizer.ggml.unknown_token_id"
	KeyPadID                  = "tokenizer.ggml.padding_token_id"
	KeyAddSpacePrefix         = "tokenizer.ggml.add_space_prefix"
	KeyRemoveExtraWhitespaces = "tokenizer.ggml.remove_extra_whitespaces"
	KeyPrecompiledCharsmap    = "tokenizer.ggml.precompiled_charsmap"
)

// LoadModel reads the GGUF file at path and converts its tokenizer into a model descriptor.
func LoadModel(path string) (*spmodel.Model, error) {
	md, err := OpenMetadata(path)
	if err != nil {
		return nil, err
	}
	m, err := md.Tokenizer()
	if err != nil {
		return nil, errors.WithMessagef(err, "tokenizer of %q", path)
	}
	return m, nil
}

// Tokenizer converts the tokenizer metadata into a model descriptor.
//
// Only SentencePiece tokenizers are supported: "llama" (BPE) and "t5" (Unigram). The token
// types of GGUF have the same values as the SentencePiece piece types.
func (md *Metadata) Tokenizer() (*spmodel.Model, error) {
	modelName, _ := md.Get(KeyTokenizerModel)
	m := &spmodel.Model{
		Trainer:    spmodel.DefaultTrainerSpec(),
		Normalizer: spmodel.DefaultNormalizerSpec(),
	}
	switch modelName.String() {
	case "llama":
		m.Trainer.ModelType = spmodel.BPE
		m.Normalizer.Name = "identity"
		m.Normalizer.RemoveExtraWhitespaces = false
	case "t5":
		m.Trainer.ModelType = spmodel.Unigram
		m.Normalizer.Name = "nmt_nfkc"
	default:
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: tokenizer model %q is not a SentencePiece model", modelName.String())
	}

	tokensValue, _ := md.Get(KeyTokens)
	tokens := tokensValue.Strings()
	if len(tokens) == 0 {
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: %q is missing or empty", KeyTokens)
	}
	scoresValue, _ := md.Get(KeyScores)
	scores := scoresValue.Floats()
	typesValue, _ := md.Get(KeyTokenType)
	types := typesValue.Ints()
	if (scores != nil && len(scores) != len(tokens)) || (types != nil && len(types) != len(tokens)) {
		return nil, errors.Wrapf(api.ErrConfiguration, "gguf: %d tokens but %d scores and %d token types",
			len(tokens), len(scores), len(types))
	}

	m.Pieces = make([]spmodel.Piece, len(tokens))
	numBytes := 0
	for i, token := range tokens {
		piece := spmodel.Piece{Piece: token, Type: spmodel.TypeNormal}
		if scores != nil {
			piece.Score = scores[i]
		}
		if types != nil {
			piece.Type = spmodel.PieceType(types[i])
		}
		if piece.Type == spmodel.TypeByte {
			numBytes++
		}
		m.Pieces[i] = piece
	}
	m.Trainer.ByteFallback = numBytes == 256

	for key, piece := range map[string]*string{
		KeyUnkID: &m.Trainer.UnkPiece,
		KeyBosID: &m.Trainer.BosPiece,
		KeyEosID: &m.Trainer.EosPiece,
		KeyPadID: &m.Trainer.PadPiece,
	} {
		v, found := md.Get(key)
		if !found {
			continue
		}
		id, ok := v.Int()
		if !ok || id < 0 || id >= int64(len(tokens)) {
			klog.Warningf("gguf: ignoring %s=%v: not a token id", key, v.Raw())
			continue
		}
		*piece = tokens[id]
	}

	if v, found := md.Get(KeyAddSpacePrefix); found {
		m.Normalizer.AddDummyPrefix, _ = v.Bool()
	}
	if v, found := md.Get(KeyRemoveExtraWhitespaces); found {
		m.Normalizer.RemoveExtraWhitespaces, _ = v.Bool()
	}
	if v, found := md.Get(KeyPrecompiledCharsmap); found {
		m.Normalizer.PrecompiledCharsmap = v.Bytes()
	}
	return m, nil
}

// Package spmodel reads and writes SentencePiece model descriptors ("tokenizer.model" files).
//
// A descriptor is a serialized ModelProto protocol buffer. Only the fields used by the processor
// are decoded: the pieces table, the trainer options that affect encoding and decoding, the
// normalizer and denormalizer specs and the self-test samples. Other fields are skipped.
package spmodel

// PieceType is the type of a vocabulary piece, with the same values as ModelProto.SentencePiece.Type.
type PieceType int32

const (
	TypeNormal      PieceType = 1
	TypeUnknown     PieceType = 2
	TypeControl     PieceType = 3
	TypeUserDefined PieceType = 4
	TypeUnused      PieceType = 5
	TypeByte        PieceType = 6
)

var pieceTypeNames = map[PieceType]string{
	TypeNormal:      "NORMAL",
	TypeUnknown:     "UNKNOWN",
	TypeControl:     "CONTROL",
	TypeUserDefined: "USER_DEFINED",
	TypeUnused:      "UNUSED",
	TypeByte:        "BYTE",
}

func (t PieceType) String() string {
	if name, ok := pieceTypeNames[t]; ok {
		return name
	}
	return "INVALID"
}

// ModelType is the segmentation algorithm, with the same values as TrainerSpec.ModelType.
type ModelType int32

const (
	Unigram ModelType = 1
	BPE     ModelType = 2
	Word    ModelType = 3
	Char    ModelType = 4
)

func (t ModelType) String() string {
	switch t {
	case Unigram:
		return "UNIGRAM"
	case BPE:
		return "BPE"
	case Word:
		return "WORD"
	case Char:
		return "CHAR"
	}
	return "INVALID"
}

// Default values of the proto2 fields, used when a descriptor omits them.
const (
	DefaultUnkPiece   = "<unk>"
	DefaultBosPiece   = "<s>"
	DefaultEosPiece   = "</s>"
	DefaultPadPiece   = "<pad>"
	DefaultUnkSurface = " ⁇ "
)

// Piece is one entry of the vocabulary. Its index in Model.Pieces is its id.
type Piece struct {
	Piece string
	Score float32
	Type  PieceType
}

// TrainerSpec holds the training options that still matter at encoding/decoding time.
type TrainerSpec struct {
	ModelType               ModelType
	TreatWhitespaceAsSuffix bool
	ByteFallback            bool

	// UnkSurface is what an unknown piece decodes to.
	UnkSurface string

	UnkPiece, BosPiece, EosPiece, PadPiece string
}

// NormalizerSpec configures a Normalizer (or the denormalizer).
type NormalizerSpec struct {
	Name string

	// PrecompiledCharsmap is kept for round trips only: the compiled rule trie is not interpreted.
	PrecompiledCharsmap []byte

	AddDummyPrefix         bool
	RemoveExtraWhitespaces bool
	EscapeWhitespaces      bool

	// NormalizationRuleTSV holds "source<TAB>target" lines of hex code points, applied with
	// longest-match-first.
	NormalizationRuleTSV string
}

// Sample is a self-test case: Expected is the space-joined pieces Input must encode to.
type Sample struct {
	Input, Expected string
}

// Model is a parsed model descriptor. It is read-only once handed to a processor.
type Model struct {
	Pieces     []Piece
	Trainer    TrainerSpec
	Normalizer NormalizerSpec

	// Denormalizer is nil when the descriptor has no denormalizer spec.
	Denormalizer *NormalizerSpec

	SelfTest []Sample
}

// DefaultTrainerSpec returns the TrainerSpec with the proto2 defaults.
func DefaultTrainerSpec() TrainerSpec {
	return TrainerSpec{
		ModelType:  Unigram,
		UnkSurface: DefaultUnkSurface,
		UnkPiece:   DefaultUnkPiece,
		BosPiece:   DefaultBosPiece,
		EosPiece:   DefaultEosPiece,
		PadPiece:   DefaultPadPiece,
	}
}

// DefaultNormalizerSpec returns the NormalizerSpec with the proto2 defaults.
func DefaultNormalizerSpec() NormalizerSpec {
	return NormalizerSpec{
		AddDummyPrefix:         true,
		RemoveExtraWhitespaces: true,
		EscapeWhitespaces:      true,
	}
}

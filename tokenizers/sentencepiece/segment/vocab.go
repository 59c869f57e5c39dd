package segment

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
)

// Vocab is the vocabulary of a model descriptor: lookups between pieces and ids, and the
// predicates on piece types. It is immutable and safe for concurrent use.
type Vocab struct {
	pieces       []spmodel.Piece
	ids          map[string]int
	unkID        int
	byteFallback bool
	userDefined  []string

	// Score range of the NORMAL pieces.
	minScore, maxScore float64
	maxPieceLen        int
}

// NewVocab builds the vocabulary of m. It fails with api.ErrConfiguration on empty or
// duplicated pieces, a missing unknown piece, or byte fallback without the 256 byte pieces.
func NewVocab(m *spmodel.Model) (*Vocab, error) {
	v := &Vocab{
		pieces:       m.Pieces,
		ids:          make(map[string]int, len(m.Pieces)),
		unkID:        -1,
		byteFallback: m.Trainer.ByteFallback,
		minScore:     math.MaxFloat32,
		maxScore:     -math.MaxFloat32,
	}
	for id, p := range m.Pieces {
		if p.Piece == "" {
			return nil, errors.Wrapf(api.ErrConfiguration, "piece %d is empty", id)
		}
		if _, found := v.ids[p.Piece]; found {
			return nil, errors.Wrapf(api.ErrConfiguration, "piece %q is defined more than once", p.Piece)
		}
		v.ids[p.Piece] = id
		switch p.Type {
		case spmodel.TypeUnknown:
			if v.unkID >= 0 {
				return nil, errors.Wrapf(api.ErrConfiguration, "more than one unknown piece: %q and %q",
					m.Pieces[v.unkID].Piece, p.Piece)
			}
			v.unkID = id
		case spmodel.TypeUserDefined:
			v.userDefined = append(v.userDefined, p.Piece)
		case spmodel.TypeNormal:
			v.minScore = min(v.minScore, float64(p.Score))
			v.maxScore = max(v.maxScore, float64(p.Score))
		}
		if p.Type == spmodel.TypeNormal || p.Type == spmodel.TypeUserDefined {
			v.maxPieceLen = max(v.maxPieceLen, len(p.Piece))
		}
	}
	if v.unkID < 0 {
		return nil, errors.Wrap(api.ErrConfiguration, "unknown piece is not defined")
	}
	if v.minScore > v.maxScore {
		v.minScore, v.maxScore = 0, 0
	}
	if v.byteFallback {
		for b := range 256 {
			id, found := v.ids[ByteToPiece(byte(b))]
			if !found || m.Pieces[id].Type != spmodel.TypeByte {
				return nil, errors.Wrapf(api.ErrConfiguration, "byte fallback is enabled but piece %s is not defined as a byte",
					ByteToPiece(byte(b)))
			}
		}
	}
	return v, nil
}

// Size returns the number of pieces.
func (v *Vocab) Size() int { return len(v.pieces) }

// PieceToID returns the id of piece, or the unknown id if it is not in the vocabulary.
func (v *Vocab) PieceToID(piece string) int {
	if id, found := v.ids[piece]; found {
		return id
	}
	return v.unkID
}

// Lookup returns the id of piece, and whether it is in the vocabulary.
func (v *Vocab) Lookup(piece string) (int, bool) {
	id, found := v.ids[piece]
	return id, found
}

// IDToPiece returns the piece of id, or "" if id is out of range.
func (v *Vocab) IDToPiece(id int) string {
	if !v.Valid(id) {
		return ""
	}
	return v.pieces[id].Piece
}

// Valid reports whether id is in range.
func (v *Vocab) Valid(id int) bool { return id >= 0 && id < len(v.pieces) }

// Score returns the score of id, or 0 if id is out of range.
func (v *Vocab) Score(id int) float64 {
	if !v.Valid(id) {
		return 0
	}
	return float64(v.pieces[id].Score)
}

func (v *Vocab) isType(id int, t spmodel.PieceType) bool {
	return v.Valid(id) && v.pieces[id].Type == t
}

func (v *Vocab) IsNormal(id int) bool      { return v.isType(id, spmodel.TypeNormal) }
func (v *Vocab) IsControl(id int) bool     { return v.isType(id, spmodel.TypeControl) }
func (v *Vocab) IsUnknown(id int) bool     { return v.isType(id, spmodel.TypeUnknown) }
func (v *Vocab) IsUnused(id int) bool      { return v.isType(id, spmodel.TypeUnused) }
func (v *Vocab) IsByte(id int) bool        { return v.isType(id, spmodel.TypeByte) }
func (v *Vocab) IsUserDefined(id int) bool { return v.isType(id, spmodel.TypeUserDefined) }

// UnkID returns the id of the unknown piece.
func (v *Vocab) UnkID() int { return v.unkID }

// ByteFallback reports whether the model decomposes unknown runes into byte pieces.
func (v *Vocab) ByteFallback() bool { return v.byteFallback }

// UserDefinedSymbols returns the USER_DEFINED pieces, in id order.
func (v *Vocab) UserDefinedSymbols() []string { return v.userDefined }

// ByteToPiece returns the piece representing byte b: "<0xHH>" with upper case hex digits.
func ByteToPiece(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}

// PieceToByte returns the byte represented by a "<0xHH>" piece.
func PieceToByte(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

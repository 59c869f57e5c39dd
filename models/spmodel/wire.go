package spmodel

import (
	"math"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of sentencepiece_model.proto.
const (
	fieldModelPieces       protowire.Number = 1
	fieldModelTrainerSpec  protowire.Number = 2
	fieldModelNormalizer   protowire.Number = 3
	fieldModelSelfTestData protowire.Number = 4
	fieldModelDenormalizer protowire.Number = 5

	fieldPiecePiece protowire.Number = 1
	fieldPieceScore protowire.Number = 2
	fieldPieceType  protowire.Number = 3

	fieldTrainerModelType      protowire.Number = 3
	fieldTrainerWhitespaceSufx protowire.Number = 24
	fieldTrainerByteFallback   protowire.Number = 35
	fieldTrainerUnkSurface     protowire.Number = 44
	fieldTrainerUnkPiece       protowire.Number = 45
	fieldTrainerBosPiece       protowire.Number = 46
	fieldTrainerEosPiece       protowire.Number = 47
	fieldTrainerPadPiece       protowire.Number = 48

	fieldNormalizerName             protowire.Number = 1
	fieldNormalizerCharsmap         protowire.Number = 2
	fieldNormalizerAddDummyPrefix   protowire.Number = 3
	fieldNormalizerRemoveWhitespace protowire.Number = 4
	fieldNormalizerEscapeWhitespace protowire.Number = 5
	fieldNormalizerRuleTSV          protowire.Number = 6

	fieldSelfTestSamples protowire.Number = 1
	fieldSampleInput     protowire.Number = 1
	fieldSampleExpected  protowire.Number = 2
)

// field is one decoded (tag, value) pair of a message.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// walkFields calls fn for every field of the serialized message b, in wire order.
func walkFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.WithMessagef(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// expect checks the wire type of a known field.
func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return errors.Errorf("field %d has wire type %d, expected %d", f.num, f.typ, typ)
	}
	return nil
}

// Unmarshal parses a serialized ModelProto. Errors are api.ErrConfiguration.
func Unmarshal(content []byte) (*Model, error) {
	m := &Model{
		Trainer:    DefaultTrainerSpec(),
		Normalizer: DefaultNormalizerSpec(),
	}
	err := walkFields(content, func(f field) error {
		switch f.num {
		case fieldModelPieces:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			piece, err := unmarshalPiece(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "piece #%d", len(m.Pieces))
			}
			m.Pieces = append(m.Pieces, piece)
		case fieldModelTrainerSpec:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			return errors.WithMessage(unmarshalTrainer(f.bytes, &m.Trainer), "trainer_spec")
		case fieldModelNormalizer:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			return errors.WithMessage(unmarshalNormalizer(f.bytes, &m.Normalizer), "normalizer_spec")
		case fieldModelDenormalizer:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			spec := DefaultNormalizerSpec()
			if err := unmarshalNormalizer(f.bytes, &spec); err != nil {
				return errors.WithMessage(err, "denormalizer_spec")
			}
			m.Denormalizer = &spec
		case fieldModelSelfTestData:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			return errors.WithMessage(unmarshalSelfTest(f.bytes, m), "self_test_data")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "malformed model descriptor: %v", err)
	}
	return m, nil
}

func unmarshalPiece(b []byte) (Piece, error) {
	p := Piece{Type: TypeNormal}
	err := walkFields(b, func(f field) error {
		switch f.num {
		case fieldPiecePiece:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			p.Piece = string(f.bytes)
		case fieldPieceScore:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			p.Score = math.Float32frombits(f.fixed32)
		case fieldPieceType:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			p.Type = PieceType(f.varint)
		}
		return nil
	})
	return p, err
}

func unmarshalTrainer(b []byte, spec *TrainerSpec) error {
	return walkFields(b, func(f field) error {
		switch f.num {
		case fieldTrainerModelType:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			spec.ModelType = ModelType(f.varint)
		case fieldTrainerWhitespaceSufx:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			spec.TreatWhitespaceAsSuffix = protowire.DecodeBool(f.varint)
		case fieldTrainerByteFallback:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			spec.ByteFallback = protowire.DecodeBool(f.varint)
		case fieldTrainerUnkSurface, fieldTrainerUnkPiece, fieldTrainerBosPiece, fieldTrainerEosPiece, fieldTrainerPadPiece:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			value := string(f.bytes)
			switch f.num {
			case fieldTrainerUnkSurface:
				spec.UnkSurface = value
			case fieldTrainerUnkPiece:
				spec.UnkPiece = value
			case fieldTrainerBosPiece:
				spec.BosPiece = value
			case fieldTrainerEosPiece:
				spec.EosPiece = value
			case fieldTrainerPadPiece:
				spec.PadPiece = value
			}
		}
		return nil
	})
}

func unmarshalNormalizer(b []byte, spec *NormalizerSpec) error {
	return walkFields(b, func(f field) error {
		switch f.num {
		case fieldNormalizerName, fieldNormalizerCharsmap, fieldNormalizerRuleTSV:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			switch f.num {
			case fieldNormalizerName:
				spec.Name = string(f.bytes)
			case fieldNormalizerCharsmap:
				spec.PrecompiledCharsmap = append([]byte(nil), f.bytes...)
			case fieldNormalizerRuleTSV:
				spec.NormalizationRuleTSV = string(f.bytes)
			}
		case fieldNormalizerAddDummyPrefix, fieldNormalizerRemoveWhitespace, fieldNormalizerEscapeWhitespace:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			value := protowire.DecodeBool(f.varint)
			switch f.num {
			case fieldNormalizerAddDummyPrefix:
				spec.AddDummyPrefix = value
			case fieldNormalizerRemoveWhitespace:
				spec.RemoveExtraWhitespaces = value
			case fieldNormalizerEscapeWhitespace:
				spec.EscapeWhitespaces = value
			}
		}
		return nil
	})
}

func unmarshalSelfTest(b []byte, m *Model) error {
	return walkFields(b, func(f field) error {
		if f.num != fieldSelfTestSamples {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		var sample Sample
		err := walkFields(f.bytes, func(f field) error {
			if f.num != fieldSampleInput && f.num != fieldSampleExpected {
				return nil
			}
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			if f.num == fieldSampleInput {
				sample.Input = string(f.bytes)
			} else {
				sample.Expected = string(f.bytes)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.SelfTest = append(m.SelfTest, sample)
		return nil
	})
}

// Marshal serializes the model as a ModelProto. All fields it knows about are written
// explicitly, including those holding default values.
func Marshal(m *Model) []byte {
	var b []byte
	for _, p := range m.Pieces {
		var pb []byte
		pb = appendString(pb, fieldPiecePiece, p.Piece)
		pb = protowire.AppendTag(pb, fieldPieceScore, protowire.Fixed32Type)
		pb = protowire.AppendFixed32(pb, math.Float32bits(p.Score))
		pb = appendVarint(pb, fieldPieceType, uint64(p.Type))
		b = appendMessage(b, fieldModelPieces, pb)
	}

	var tb []byte
	tb = appendVarint(tb, fieldTrainerModelType, uint64(m.Trainer.ModelType))
	tb = appendVarint(tb, fieldTrainerWhitespaceSufx, protowire.EncodeBool(m.Trainer.TreatWhitespaceAsSuffix))
	tb = appendVarint(tb, fieldTrainerByteFallback, protowire.EncodeBool(m.Trainer.ByteFallback))
	tb = appendString(tb, fieldTrainerUnkSurface, m.Trainer.UnkSurface)
	tb = appendString(tb, fieldTrainerUnkPiece, m.Trainer.UnkPiece)
	tb = appendString(tb, fieldTrainerBosPiece, m.Trainer.BosPiece)
	tb = appendString(tb, fieldTrainerEosPiece, m.Trainer.EosPiece)
	tb = appendString(tb, fieldTrainerPadPiece, m.Trainer.PadPiece)
	b = appendMessage(b, fieldModelTrainerSpec, tb)

	b = appendMessage(b, fieldModelNormalizer, marshalNormalizer(&m.Normalizer))

	if len(m.SelfTest) > 0 {
		var sb []byte
		for _, s := range m.SelfTest {
			var eb []byte
			eb = appendString(eb, fieldSampleInput, s.Input)
			eb = appendString(eb, fieldSampleExpected, s.Expected)
			sb = appendMessage(sb, fieldSelfTestSamples, eb)
		}
		b = appendMessage(b, fieldModelSelfTestData, sb)
	}

	if m.Denormalizer != nil {
		b = appendMessage(b, fieldModelDenormalizer, marshalNormalizer(m.Denormalizer))
	}
	return b
}

func marshalNormalizer(spec *NormalizerSpec) []byte {
	var b []byte
	b = appendString(b, fieldNormalizerName, spec.Name)
	if len(spec.PrecompiledCharsmap) > 0 {
		b = protowire.AppendTag(b, fieldNormalizerCharsmap, protowire.BytesType)
		b = protowire.AppendBytes(b, spec.PrecompiledCharsmap)
	}
	b = appendVarint(b, fieldNormalizerAddDummyPrefix, protowire.EncodeBool(spec.AddDummyPrefix))
	b = appendVarint(b, fieldNormalizerRemoveWhitespace, protowire.EncodeBool(spec.RemoveExtraWhitespaces))
	b = appendVarint(b, fieldNormalizerEscapeWhitespace, protowire.EncodeBool(spec.EscapeWhitespaces))
	if spec.NormalizationRuleTSV != "" {
		b = appendString(b, fieldNormalizerRuleTSV, spec.NormalizationRuleTSV)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/spprocessor/tokenizers/sentencepiece"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// resultWriter outputs the encoding of each input line. A line may have more than one result
// (n-best), distinguished by rank.
type resultWriter interface {
	Write(lineNum, rank int, res *sentencepiece.Result) error
	Close() error
}

var outputFormats = []string{"piece", "id", "json", "table", "parquet"}

func newResultWriter(format string, w io.Writer) (resultWriter, error) {
	switch format {
	case "piece":
		return &textWriter{w: w, format: func(p sentencepiece.Piece) string { return p.Piece }}, nil
	case "id":
		return &textWriter{w: w, format: func(p sentencepiece.Piece) string { return strconv.Itoa(p.ID) }}, nil
	case "json":
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case "table":
		return &tableWriter{w: w}, nil
	case "parquet":
		return &parquetWriter{w: parquet.NewGenericWriter[encodedRow](w)}, nil
	}
	return nil, errors.Errorf("unknown --output_format %q, valid values are %s", format, strings.Join(outputFormats, ", "))
}

// textWriter writes one line per result, pieces or ids separated by spaces.
type textWriter struct {
	w      io.Writer
	format func(p sentencepiece.Piece) string
}

func (tw *textWriter) Write(_, _ int, res *sentencepiece.Result) error {
	parts := make([]string, len(res.Pieces))
	for i, p := range res.Pieces {
		parts[i] = tw.format(p)
	}
	return tw.WriteTokens(parts)
}

// WriteTokens writes already formatted tokens as one line.
func (tw *textWriter) WriteTokens(tokens []string) error {
	_, err := fmt.Fprintln(tw.w, strings.Join(tokens, " "))
	return err
}

func (tw *textWriter) Close() error { return nil }

type jsonPiece struct {
	Piece   string `json:"piece"`
	ID      int    `json:"id"`
	Surface string `json:"surface"`
	Begin   int    `json:"begin"`
	End     int    `json:"end"`
}

type jsonResult struct {
	Line   int         `json:"line"`
	Rank   int         `json:"rank,omitempty"`
	Text   string      `json:"text"`
	Score  float64     `json:"score,omitempty"`
	Pieces []jsonPiece `json:"pieces"`
}

// jsonWriter writes one JSON object per result (JSON lines).
type jsonWriter struct {
	enc *json.Encoder
}

func (jw *jsonWriter) Write(lineNum, rank int, res *sentencepiece.Result) error {
	out := jsonResult{Line: lineNum, Rank: rank, Text: res.Text, Score: res.Score, Pieces: make([]jsonPiece, len(res.Pieces))}
	for i, p := range res.Pieces {
		out.Pieces[i] = jsonPiece(p)
	}
	return jw.enc.Encode(out)
}

func (jw *jsonWriter) Close() error { return nil }

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// tableWriter renders every piece as a table row, once all lines are encoded.
type tableWriter struct {
	w    io.Writer
	rows [][]string
}

func (tw *tableWriter) Write(lineNum, rank int, res *sentencepiece.Result) error {
	for _, p := range res.Pieces {
		tw.rows = append(tw.rows, []string{
			strconv.Itoa(lineNum), strconv.Itoa(rank), strconv.Itoa(p.ID), p.Piece,
			strconv.Quote(p.Surface), strconv.Itoa(p.Begin), strconv.Itoa(p.End),
		})
	}
	return nil
}

func (tw *tableWriter) Close() error {
	t := newTable("line", "rank", "id", "piece", "surface", "begin", "end").Rows(tw.rows...)
	_, err := fmt.Fprintln(tw.w, t.Render())
	return err
}

// encodedRow is the parquet schema of one encoded line.
type encodedRow struct {
	Line   int64    `parquet:"line"`
	Rank   int32    `parquet:"rank"`
	Text   string   `parquet:"text"`
	Score  float64  `parquet:"score"`
	Pieces []string `parquet:"pieces,list"`
	IDs    []int32  `parquet:"ids,list"`
	Begins []int32  `parquet:"begins,list"`
	Ends   []int32  `parquet:"ends,list"`
}

func newEncodedRow(lineNum, rank int, res *sentencepiece.Result) encodedRow {
	row := encodedRow{
		Line:   int64(lineNum),
		Rank:   int32(rank),
		Text:   res.Text,
		Score:  res.Score,
		Pieces: res.PieceStrings(),
		IDs:    make([]int32, len(res.Pieces)),
		Begins: make([]int32, len(res.Pieces)),
		Ends:   make([]int32, len(res.Pieces)),
	}
	for i, p := range res.Pieces {
		row.IDs[i], row.Begins[i], row.Ends[i] = int32(p.ID), int32(p.Begin), int32(p.End)
	}
	return row
}

// parquetWriter writes one row per result into a parquet file.
type parquetWriter struct {
	w *parquet.GenericWriter[encodedRow]
}

func (pw *parquetWriter) Write(lineNum, rank int, res *sentencepiece.Result) error {
	_, err := pw.w.Write([]encodedRow{newEncodedRow(lineNum, rank, res)})
	return errors.Wrap(err, "writing parquet row")
}

func (pw *parquetWriter) Close() error {
	return errors.Wrap(pw.w.Close(), "closing parquet writer")
}

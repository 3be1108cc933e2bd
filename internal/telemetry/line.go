package telemetry

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/nvandessel/abm/internal/models"
)

// Format selects the line encoding of a LineSink.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format name. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: csv, jsonl)", s)
	}
}

// LineSink writes one line per record to w. Each line is written with a
// single Write call under a mutex, so lines from concurrent replicates never
// tear, though they may interleave.
type LineSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
}

// NewLineSink creates a sink writing format-encoded lines to w.
func NewLineSink(w io.Writer, format Format) *LineSink {
	if format == "" {
		format = FormatCSV
	}
	return &LineSink{w: w, format: format}
}

// WriteHeader writes the column header pair. JSONL output has no header.
func (s *LineSink) WriteHeader() error {
	if s.format == FormatJSONL {
		return nil
	}
	if err := s.writeLine([]byte(TalliesHeader() + "\n")); err != nil {
		return err
	}
	return s.writeLine([]byte(TotalsHeader() + "\n"))
}

// WriteTallies writes one tallies record.
func (s *LineSink) WriteTallies(t Tallies) error {
	if s.format == FormatJSONL {
		return s.writeJSON(jsonRecord{Kind: TalliesTag, Name: t.Name, Replicate: t.Replicate, Iteration: t.Iteration, Counts: t.Counts[:]})
	}
	return s.writeLine(AppendTallies(nil, t))
}

// WriteTotals writes one totals record.
func (s *LineSink) WriteTotals(t Totals) error {
	if s.format == FormatJSONL {
		infections, vaccinations := t.Infections, t.Vaccinations
		return s.writeJSON(jsonRecord{Kind: TotalsTag, Name: t.Name, Replicate: t.Replicate, Iteration: t.Iteration, Infections: &infections, Vaccinations: &vaccinations})
	}
	return s.writeLine(AppendTotals(nil, t))
}

type jsonRecord struct {
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	Replicate    int    `json:"replicate"`
	Iteration    int    `json:"iteration"`
	Counts       []int  `json:"counts,omitempty"`
	Infections   *int   `json:"infections,omitempty"`
	Vaccinations *int   `json:"vaccinations,omitempty"`
}

func (s *LineSink) writeJSON(rec jsonRecord) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding telemetry record: %w", err)
	}
	return s.writeLine(append(data, '\n'))
}

func (s *LineSink) writeLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// TalliesHeader names the tallies columns.
func TalliesHeader() string {
	cols := []string{TalliesTag, "Desc", "Sim", "Iter"}
	for _, st := range models.AllStates() {
		cols = append(cols, st.Column())
	}
	return strings.Join(cols, ",")
}

// TotalsHeader names the totals columns.
func TotalsHeader() string {
	return TotalsTag + ",Desc,Sim,Iter,Infections,Vaccinations"
}

// AppendTallies appends the CSV line for t, including the trailing newline.
func AppendTallies(b []byte, t Tallies) []byte {
	b = appendPrefix(b, TalliesTag, t.Name, t.Replicate, t.Iteration)
	for _, c := range t.Counts {
		b = append(b, ',')
		b = strconv.AppendInt(b, int64(c), 10)
	}
	return append(b, '\n')
}

// AppendTotals appends the CSV line for t, including the trailing newline.
func AppendTotals(b []byte, t Totals) []byte {
	b = appendPrefix(b, TotalsTag, t.Name, t.Replicate, t.Iteration)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(t.Infections), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(t.Vaccinations), 10)
	return append(b, '\n')
}

func appendPrefix(b []byte, tag, name string, replicate, iteration int) []byte {
	b = append(b, tag...)
	b = append(b, ',')
	b = append(b, name...)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(replicate), 10)
	b = append(b, ',')
	return strconv.AppendInt(b, int64(iteration), 10)
}

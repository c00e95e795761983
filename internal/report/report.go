// Package report validates analysis results against the output contract
// and writes them out.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opensource-finance/mulerift/internal/domain"
)

// Serializer encodes analysis results. It refuses to emit a document that
// violates the contract.
type Serializer struct {
	schema *jsonschema.Schema
	logger *slog.Logger

	// Pretty indents the output.
	Pretty bool
}

// NewSerializer compiles the contract schema.
func NewSerializer(logger *slog.Logger) (*Serializer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileContract()
	if err != nil {
		return nil, err
	}
	return &Serializer{schema: schema, logger: logger}, nil
}

// Encode validates and encodes a result. Any contract violation is
// reported as a serialization error.
func (s *Serializer) Encode(r *domain.AnalysisResult) ([]byte, error) {
	if err := Validate(r); err != nil {
		return nil, s.defect(r, err)
	}

	var (
		doc []byte
		err error
	)
	if s.Pretty {
		doc, err = json.MarshalIndent(r, "", "  ")
	} else {
		doc, err = json.Marshal(r)
	}
	if err != nil {
		return nil, s.defect(r, err)
	}

	if err := validateDocument(s.schema, doc); err != nil {
		return nil, s.defect(r, err)
	}
	return doc, nil
}

// Write encodes r to w followed by a newline.
func (s *Serializer) Write(w io.Writer, r *domain.AnalysisResult) error {
	doc, err := s.Encode(r)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(doc, '\n')); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func (s *Serializer) defect(r *domain.AnalysisResult, err error) error {
	s.logger.Error("analysis result violates output contract",
		"error", err,
		"result", r,
	)
	return domain.NewError(domain.KindSerialization, "", err)
}

var edgeHeader = []string{
	"source", "target", "total_amount", "transaction_count",
	"earliest_timestamp", "latest_timestamp",
}

// WriteEdges writes the aggregated edge list as CSV for visualizers.
func WriteEdges(w io.Writer, edges []domain.Edge) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(edgeHeader); err != nil {
		return err
	}
	for _, e := range edges {
		if err := cw.Write([]string{
			e.Source,
			e.Target,
			e.TotalAmount.String(),
			strconv.Itoa(e.TransactionCount),
			e.EarliestTimestamp.UTC().Format(time.RFC3339),
			e.LatestTimestamp.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

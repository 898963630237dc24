package ingestion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/pkg/logger"
)

type Mode string

const (
	// ModeReplace deletes every entry of the tenant for the kind before loading.
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReplace:
		return ModeReplace, nil
	case ModeAppend, "":
		return ModeAppend, nil
	default:
		return "", catalog.NewValidationError("mode", "unknown ingest mode %q", s)
	}
}

// Writer is the slice of the document store the pipeline loads into.
type Writer interface {
	UpsertBulk(ctx context.Context, kind catalog.Kind, tenantID string, entries []catalog.Entry, naturalIDField string) (catalog.BulkResult, error)
	ReplaceTenant(ctx context.Context, kind catalog.Kind, tenantID string, entries []catalog.Entry, naturalIDField string) (catalog.BulkResult, error)
}

// IngestResult aggregates the outcome of one file. Failed items index data
// rows, the header excluded, and include rows dropped before indexing.
type IngestResult struct {
	Rows    int                `json:"rows"`
	Dropped int                `json:"dropped"`
	Result  catalog.BulkResult `json:"result"`
}

type options struct {
	columns  *ColumnConfig
	progress func(done, total int)
}

type Option func(*options)

// WithColumns overrides the default column layout of the kind.
func WithColumns(cfg ColumnConfig) Option {
	return func(o *options) { o.columns = &cfg }
}

// WithProgress is called after every loaded chunk with the number of rows
// sent so far.
func WithProgress(fn func(done, total int)) Option {
	return func(o *options) { o.progress = fn }
}

type Pipeline struct {
	writer    Writer
	chunkSize int
}

func NewPipeline(writer Writer, chunkSize int) (*Pipeline, error) {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	for _, kind := range catalog.Kinds() {
		cfg, err := DefaultColumns(kind)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s columns: %w", kind, err)
		}
	}
	return &Pipeline{writer: writer, chunkSize: chunkSize}, nil
}

// Ingest parses the whole file before writing anything, so a malformed file
// leaves the tenant's entries untouched.
func (p *Pipeline) Ingest(ctx context.Context, kind catalog.Kind, tenantID, filename string, content []byte, mode Mode, opts ...Option) (IngestResult, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := p.columns(kind, o.columns)
	if err != nil {
		return IngestResult{}, err
	}

	rows, err := ReadRows(filename, content)
	if err != nil {
		return IngestResult{}, err
	}

	parsed, err := Normalize(rows, cfg)
	if err != nil {
		return IngestResult{}, err
	}

	logger.Info("Ingesting catalog file",
		zap.String("kind", kind.String()),
		zap.String("tenant", tenantID),
		zap.String("file", filename),
		zap.String("mode", string(mode)),
		zap.Int("rows", parsed.Rows),
		zap.Int("dropped", len(parsed.Dropped)),
	)

	result := IngestResult{Rows: parsed.Rows, Dropped: len(parsed.Dropped), Result: catalog.NewBulkResult()}
	for _, d := range parsed.Dropped {
		result.Result.Fail(d.Index, d.ID, d.Reason)
	}

	idField := cfg.StoredIDField()
	total := len(parsed.Entries)
	for start := 0; start < total || (start == 0 && mode == ModeReplace); start += p.chunkSize {
		end := min(start+p.chunkSize, total)
		chunk := parsed.Entries[start:end]

		var res catalog.BulkResult
		if start == 0 && mode == ModeReplace {
			res, err = p.writer.ReplaceTenant(ctx, kind, tenantID, chunk, idField)
		} else {
			res, err = p.writer.UpsertBulk(ctx, kind, tenantID, chunk, idField)
		}

		result.Result.SuccessCount += res.SuccessCount
		for _, f := range res.Failed {
			f.Index = parsed.RowIndex[start+f.Index]
			result.Result.Failed = append(result.Result.Failed, f)
		}
		if err != nil {
			p.record(kind, result)
			return result, err
		}

		if o.progress != nil {
			o.progress(end, total)
		}
		if total == 0 {
			break
		}
	}

	sort.SliceStable(result.Result.Failed, func(i, j int) bool {
		return result.Result.Failed[i].Index < result.Result.Failed[j].Index
	})
	p.record(kind, result)

	logger.Info("Catalog file ingested",
		zap.String("kind", kind.String()),
		zap.String("tenant", tenantID),
		zap.Int("success", result.Result.SuccessCount),
		zap.Int("failed", result.Result.FailedCount()),
	)
	return result, nil
}

func (p *Pipeline) columns(kind catalog.Kind, override *ColumnConfig) (ColumnConfig, error) {
	if override == nil {
		return DefaultColumns(kind)
	}
	if err := override.Validate(); err != nil {
		return ColumnConfig{}, catalog.NewValidationError("columns", "%v", err)
	}
	return *override, nil
}

func (p *Pipeline) record(kind catalog.Kind, result IngestResult) {
	metrics.IngestedRows.WithLabelValues(kind.String(), "success").Add(float64(result.Result.SuccessCount))
	metrics.IngestedRows.WithLabelValues(kind.String(), "dropped").Add(float64(result.Dropped))
	metrics.IngestedRows.WithLabelValues(kind.String(), "failed").Add(float64(result.Result.FailedCount() - result.Dropped))
}

// Parsed is a normalized file. RowIndex maps each entry back to its data
// row.
type Parsed struct {
	Rows     int
	Entries  []catalog.Entry
	RowIndex []int
	Dropped  []catalog.FailedItem
}

// Normalize applies cfg to raw rows whose first row is the header.
func Normalize(rows [][]string, cfg ColumnConfig) (Parsed, error) {
	if len(rows) == 0 {
		return Parsed{}, catalog.NewValidationError("file", "file is empty")
	}
	if width := len(rows[0]); width < len(cfg.Names) {
		return Parsed{}, catalog.NewValidationError("file",
			"wrong shape: header has %d columns, expected %d (%s)", width, len(cfg.Names), strings.Join(cfg.Names, ", "))
	}

	var parsed Parsed
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		parsed.Rows++

		entry := make(catalog.Entry, len(cfg.Names))
		for col, name := range cfg.Names {
			cell := ""
			if col < len(row) {
				cell = strings.TrimSpace(row[col])
			}

			field := cfg.field(name)
			if kind, ok := cfg.Numerics[name]; ok {
				entry[field] = parseNumber(cell, kind)
				continue
			}
			if emptyLike(cell) {
				continue
			}
			entry[field] = cell
		}

		if missing := missingRequired(entry, cfg); missing != "" {
			parsed.Dropped = append(parsed.Dropped, catalog.FailedItem{
				Index:  i,
				ID:     entry.String(cfg.StoredIDField()),
				Reason: fmt.Sprintf("missing required column %q", missing),
			})
			continue
		}

		parsed.Entries = append(parsed.Entries, entry)
		parsed.RowIndex = append(parsed.RowIndex, i)
	}
	return parsed, nil
}

func missingRequired(entry catalog.Entry, cfg ColumnConfig) string {
	for _, name := range cfg.Required {
		if _, numeric := cfg.Numerics[name]; numeric {
			continue
		}
		if !entry.Has(cfg.field(name)) {
			return name
		}
	}
	return ""
}

var emptyValues = map[string]bool{"": true, "nan": true, "none": true, "null": true, "n/a": true}

func emptyLike(cell string) bool {
	return emptyValues[strings.ToLower(cell)]
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseNumber strips thousands separators and falls back to 0 on anything
// unparsable. Integer columns are counts and never go negative.
func parseNumber(cell string, kind NumericKind) any {
	f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}

	if kind == NumericInt {
		n := int64(f)
		if n < 0 {
			n = 0
		}
		return n
	}
	return f
}

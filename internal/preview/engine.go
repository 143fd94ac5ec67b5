package preview

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/staging"
)

const (
	defaultBatchSize = 500
	defaultSampleCap = 25
)

// Summary is the outcome of a dry run: how the staged rows would commit,
// without any durable write having happened.
type Summary struct {
	TotalRows int         `json:"totalRows"`
	Creates   int         `json:"creates"`
	Updates   int         `json:"updates"`
	Ambiguous int         `json:"ambiguous"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Sample    []SampleRow `json:"sample"`
}

// SampleRow is one previewed row for display, capped so preview output never
// grows with file size.
type SampleRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
	Issues    map[string]string `json:"issues,omitempty"`
	IsNew     bool              `json:"isNew"`
	Matches   int               `json:"matches,omitempty"`
}

// Engine walks staged rows in batches and reports what a commit would do.
type Engine struct {
	store    *staging.Store
	resolver *RowResolver

	batchSize int
	sampleCap int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets how many staged rows are scanned per query.
func WithBatchSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// WithSampleCap sets how many resolved rows the summary carries for display.
func WithSampleCap(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.sampleCap = n
		}
	}
}

// NewEngine builds a preview engine over one session's staging store.
func NewEngine(store *staging.Store, resolver *RowResolver, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		resolver:  resolver,
		batchSize: defaultBatchSize,
		sampleCap: defaultSampleCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preview resolves every staged row and aggregates create/update counts plus
// a capped sample. A row that fails resolution is counted as failed and
// excluded from the other counts; the commit path surfaces such failures
// per row later.
func (e *Engine) Preview(ctx context.Context) (Summary, error) {
	var summary Summary

	afterRow := 0
	for {
		batch, err := e.store.ScanRows(ctx, afterRow, e.batchSize)
		if err != nil {
			return Summary{}, err
		}
		if len(batch) == 0 {
			break
		}
		afterRow = batch[len(batch)-1].RowNumber

		for _, rec := range batch {
			resolved, err := e.resolver.Resolve(ctx, rec)
			if err != nil {
				summary.Failed++
				logrus.WithError(err).WithField("row", rec.RowNumber).
					Debug("row excluded from preview")
				continue
			}
			summary.TotalRows++
			switch resolved.Classify() {
			case OutcomeCreate:
				summary.Creates++
				// Later rows with the same candidate would update the
				// record this one creates, exactly as the commit does.
				e.resolver.RecordCreate(resolved, uuid.Nil)
			case OutcomeUpdate:
				summary.Updates++
			case OutcomeSkip:
				summary.Skipped++
			case OutcomeFail:
				summary.Failed++
			default:
				summary.Ambiguous++
			}
			if len(summary.Sample) < e.sampleCap {
				summary.Sample = append(summary.Sample, SampleRow{
					RowNumber: resolved.RowNumber,
					Values:    resolved.Values,
					Issues:    resolved.Issues,
					IsNew:     resolved.IsNew(),
					Matches:   resolved.Match.Matches,
				})
			}
		}
	}
	return summary, nil
}

package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/model"
)

const extractionInstruction = `Extract the structured fields from the assistant answer below.
Copy the complete answer into user_output without shortening it.
Fill insights_summary only when the answer contains distinct analytical findings.
Fill charting_url only when the answer references a generated chart URL.
Leave a field as an empty string when it does not apply.`

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Logger logging.Logger
}

// Extractor performs the schema-constrained model call that converts a final
// answer into a Record.
type Extractor struct {
	llm  model.Model
	opts ExtractorOptions
}

// NewExtractor creates an Extractor backed by the given model.
func NewExtractor(llm model.Model, optFns ...func(o *ExtractorOptions)) *Extractor {
	opts := ExtractorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Extractor{llm: llm, opts: opts}
}

// Extract converts the final assistant answer into a Record.
//
// The answer text is always preserved: when the extraction call fails, emits
// unparseable JSON or yields an empty user_output, the result degrades to a
// verbatim record carrying the raw answer. An error is returned only when
// there is no answer to extract from.
func (e *Extractor) Extract(ctx context.Context, answer string) (*Record, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("no answer text to extract from")
	}

	record, err := e.callModel(ctx, answer)
	if err != nil {
		e.opts.Logger.Warn("structured extraction failed, returning verbatim record", "error", err)
		return &Record{UserOutput: answer}, nil
	}
	return e.validate(record, answer), nil
}

func (e *Extractor) callModel(ctx context.Context, answer string) (*Record, error) {
	respCh, errCh := e.llm.Generate(ctx, model.Request{
		Messages: []core.Message{
			core.NewTextMessage(core.RoleSystem, extractionInstruction),
			core.NewTextMessage(core.RoleUser, answer),
		},
		ResponseFormat: &model.ResponseFormat{Name: SchemaName, Schema: Schema()},
	})

	var text string
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				text = resp.Message.Text()
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var record Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &record); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	return &record, nil
}

// validate enforces the record invariants, degrading field by field rather
// than discarding the whole record.
func (e *Extractor) validate(record *Record, answer string) *Record {
	if strings.TrimSpace(record.UserOutput) == "" {
		e.opts.Logger.Warn("extraction produced empty user output, falling back to verbatim answer",
			"error", core.ErrEmptyOutput)
		record.UserOutput = answer
	}
	record.InsightsSummary = strings.TrimSpace(record.InsightsSummary)
	record.ChartingURL = strings.TrimSpace(record.ChartingURL)

	if record.ChartingURL != "" && !validChartURL(record.ChartingURL) {
		e.opts.Logger.Warn("dropping malformed charting url", "url", record.ChartingURL)
		record.ChartingURL = ""
	}
	return record
}

func validChartURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

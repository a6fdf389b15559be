package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/recast/internal/embedding"
	"github.com/raphaelgruber/recast/internal/filter"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/refine"
)

// ErrContentTooLarge marks records whose text exceeds the instance's max_content_size.
var ErrContentTooLarge = errors.New("content exceeds max_content_size")

// outcome follows one record through a tick.
type outcome struct {
	key    string
	record models.Record

	original string
	stats    *filter.Stats
	cleaned  string
	// resolved means Pass 1 alone produced the final text.
	resolved  bool
	escalated bool

	final    string
	vector   []float32
	err      error
	embedErr error
}

func (o *outcome) ok() bool { return o.err == nil }

// pageRun is the result of running the pipeline over a page.
type pageRun struct {
	outcomes []outcome
	// budgetHit is set when the tick budget expired during external calls.
	budgetHit bool
	// batchErr is set when a combined refinement failed for the whole page.
	batchErr error
}

// runPage applies Pass 1, Pass 2 and embeddings to records. External calls run
// under budget; embedder may be nil.
func (o *Orchestrator) runPage(budget context.Context, inst *models.Instance, records []models.Record, embedder embedding.Embedder) pageRun {
	run := pageRun{outcomes: make([]outcome, len(records))}
	removal := inst.RemovalSet()

	var (
		items   []refine.Item
		indexes []int
	)
	for i, rec := range records {
		out := &run.outcomes[i]
		out.key = models.KeyString(rec[inst.PrimaryKey])
		out.record = rec
		out.original = rec.Text(inst.TextField)

		if strings.TrimSpace(out.original) == "" {
			out.resolved = true
			out.final = out.original
			continue
		}

		text := out.original
		if inst.TwoPass {
			cleaned, stats := o.filter.Apply(out.original, removal)
			out.stats = &stats
			out.cleaned = cleaned
			if stats.Retained() <= inst.Threshold() {
				out.resolved = true
				out.final = cleaned
				continue
			}
			text = cleaned
		}

		out.escalated = true
		if n := utf8.RuneCountInString(text); inst.MaxContentSize > 0 && n > inst.MaxContentSize {
			out.err = fmt.Errorf("%w: %d > %d characters", ErrContentTooLarge, n, inst.MaxContentSize)
			continue
		}
		items = append(items, refine.Item{Key: out.key, Text: text})
		indexes = append(indexes, i)
	}

	if len(items) > 0 {
		results, err := o.refiner.Refine(budget, inst.GenerativeModel, inst.PromptTemplate, items)
		switch {
		case err != nil && budget.Err() != nil:
			run.budgetHit = true
			for _, i := range indexes {
				run.outcomes[i].err = err
			}
		case err != nil:
			run.batchErr = err
			for i := range run.outcomes {
				run.outcomes[i].err = err
			}
			return run
		default:
			for j, i := range indexes {
				out := &run.outcomes[i]
				if results[j].Err != nil {
					out.err = results[j].Err
					continue
				}
				out.final = results[j].Text
			}
		}
	}
	if budget.Err() != nil {
		run.budgetHit = true
	}

	if embedder == nil || run.budgetHit {
		return run
	}
	var (
		embedItems []embedding.Item
		embedIdx   []int
	)
	for i := range run.outcomes {
		out := &run.outcomes[i]
		if out.ok() && strings.TrimSpace(out.final) != "" {
			embedItems = append(embedItems, embedding.Item{Key: out.key, Text: out.final})
			embedIdx = append(embedIdx, i)
		}
	}
	if len(embedItems) == 0 {
		return run
	}
	for j, res := range o.fanOut.Embed(budget, embedder, embedItems) {
		out := &run.outcomes[embedIdx[j]]
		if res.Err != nil {
			out.embedErr = res.Err
			continue
		}
		out.vector = res.Vector
	}
	return run
}

// progress summarizes a run as counter deltas. It does not clamp.
func (r pageRun) progress(twoPass bool) models.PageProgress {
	p := models.PageProgress{PageLen: len(r.outcomes)}
	for i := range r.outcomes {
		out := &r.outcomes[i]
		if twoPass {
			p.Pass1Seen++
		}
		if out.resolved {
			p.Pass1Resolved++
		}
		if out.escalated {
			p.Pass2Escalated++
			if out.ok() {
				p.Pass2Completed++
			}
		}
		if out.embedErr != nil {
			p.EmbeddingsFailed++
		}
		if out.ok() {
			p.Processed++
		} else {
			p.Failed++
		}
	}
	return p
}

// rows returns the records to write back: every successful record with its
// new text, vector and the job marker.
func (r pageRun) rows(inst *models.Instance, jobID string) []models.Record {
	var rows []models.Record
	for i := range r.outcomes {
		out := &r.outcomes[i]
		if !out.ok() {
			continue
		}
		row := out.record.Clone()
		row[inst.TextField] = out.final
		if inst.VectorField != "" && out.vector != nil {
			row[inst.VectorField] = out.vector
		}
		row[inst.Marker()] = jobID
		rows = append(rows, row)
	}
	return rows
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/embedding"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/refine"
	"github.com/raphaelgruber/recast/internal/retry"
	"github.com/raphaelgruber/recast/internal/store"
)

// memRecords is an in-memory collection keyed by "id". Filter expressions are ignored.
type memRecords struct {
	mu       sync.Mutex
	rows     []models.Record
	countErr error
	// countOverride replaces the real count when set.
	countOverride *int
	deletes       int
	inserts       int
}

func newRecords(texts ...string) *memRecords {
	r := &memRecords{}
	for i, text := range texts {
		r.rows = append(r.rows, models.Record{"id": fmt.Sprintf("r%02d", i+1), "body": text})
	}
	return r
}

func (m *memRecords) selected(sel models.Selection) []models.Record {
	var out []models.Record
	for _, row := range m.rows {
		if v, ok := row[sel.MarkerField]; ok && v != nil && v != sel.JobID {
			continue
		}
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		return strings.Compare(a["id"].(string), b["id"].(string))
	})
	return out
}

func (m *memRecords) Count(ctx context.Context, sel models.Selection) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	if m.countOverride != nil {
		return *m.countOverride, nil
	}
	return len(m.selected(sel)), nil
}

func (m *memRecords) Query(ctx context.Context, sel models.Selection, offset, limit int) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.selected(sel)
	if offset >= len(rows) {
		return nil, nil
	}
	end := min(offset+limit, len(rows))
	out := make([]models.Record, 0, end-offset)
	for _, row := range rows[offset:end] {
		out = append(out, row.Clone())
	}
	return out, nil
}

func (m *memRecords) Delete(ctx context.Context, collection, primaryKey string, keys []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.rows = slices.DeleteFunc(m.rows, func(row models.Record) bool {
		return slices.Contains(keys, row[primaryKey])
	})
	return nil
}

func (m *memRecords) Insert(ctx context.Context, collection string, rows []models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	for _, row := range rows {
		m.rows = append(m.rows, row.Clone())
	}
	return nil
}

func (m *memRecords) get(id string) models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row["id"] == id {
			return row.Clone()
		}
	}
	return nil
}

// replacingRecords adds a transactional Replace to memRecords.
type replacingRecords struct {
	*memRecords
	replaces atomic.Int32
}

func (r *replacingRecords) Replace(ctx context.Context, collection, primaryKey string, rows []models.Record) error {
	r.replaces.Add(1)
	keys := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = row[primaryKey]
	}
	if err := r.memRecords.Delete(ctx, collection, primaryKey, keys); err != nil {
		return err
	}
	return r.memRecords.Insert(ctx, collection, rows)
}

// fakeCompleter upper-cases content. Combined prompts keep their markers.
type fakeCompleter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, user string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []models.Message) (string, error) {
	f.calls.Add(1)
	user := messages[len(messages)-1].Content
	if f.fn != nil {
		return f.fn(ctx, user)
	}
	return upper(user), nil
}

func upper(user string) string {
	if idx := strings.Index(user, "[[RECORD 1]]"); idx >= 0 {
		user = user[idx:]
	}
	return strings.ToUpper(user)
}

type fakeEmbedder struct {
	fail string
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("embedding backend down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func ptr[T any](v T) *T { return &v }

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 2, Initial: time.Millisecond}
}

func testInstance() *models.Instance {
	return &models.Instance{
		ID:              "inst",
		Name:            "docs",
		Collection:      "docs",
		PrimaryKey:      "id",
		TextField:       "body",
		PromptTemplate:  "{{content}}",
		GenerativeModel: "test-model",
		Active:          true,
	}
}

// newIndividualRefiner never combines records into one prompt.
func newIndividualRefiner(c refine.Completer) *refine.Dispatcher {
	cfg := refine.DefaultConfig()
	cfg.CombinedLimit = 0
	cfg.Call = fastPolicy()
	return refine.New(c, cfg, nil)
}

type testEngine struct {
	orch    *Orchestrator
	jobs    *store.Memory
	records RecordStore
}

func newTestEngine(t *testing.T, records RecordStore, completer refine.Completer, inst *models.Instance, mutate ...func(*Config, *Deps)) *testEngine {
	t.Helper()
	jobs := store.NewMemory()
	if inst != nil {
		require.NoError(t, jobs.UpsertInstance(context.Background(), inst))
	}

	rcfg := refine.DefaultConfig()
	rcfg.Call = fastPolicy()
	rcfg.Batch = retry.Policy{Attempts: 3, Initial: time.Millisecond}

	cfg := Config{PageSize: 5, TickBudget: time.Minute, Store: fastPolicy()}
	deps := Deps{
		Jobs:    jobs,
		Records: records,
		Refiner: refine.New(completer, rcfg, nil),
		FanOut:  embedding.NewFanOut(embedding.Config{Concurrency: 2, Policy: fastPolicy()}, nil),
		Embedders: func(model string) (embedding.Embedder, error) {
			return fakeEmbedder{}, nil
		},
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	return &testEngine{orch: NewOrchestrator(cfg, deps), jobs: jobs, records: records}
}

func (e *testEngine) createJob(t *testing.T, kind models.JobKind) string {
	t.Helper()
	id := fmt.Sprintf("job-%d", time.Now().UnixNano())
	require.NoError(t, e.jobs.CreateJob(context.Background(), &models.Job{
		ID: id, InstanceID: "inst", Kind: kind, Status: models.JobStatusPending,
	}))
	return id
}

// drain ticks jobID until it stops asking for more and returns the tick count.
func (e *testEngine) drain(t *testing.T, jobID string) int {
	t.Helper()
	ticks := 1
	for e.orch.Tick(context.Background(), jobID) {
		ticks++
		require.Less(t, ticks, 100, "job never finished")
	}
	return ticks
}

func (e *testEngine) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := e.jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (e *testEngine) logText(t *testing.T, id string) string {
	t.Helper()
	logs, err := e.jobs.Logs(context.Background(), id, 0)
	require.NoError(t, err)
	var b strings.Builder
	for _, l := range logs {
		b.WriteString(l.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

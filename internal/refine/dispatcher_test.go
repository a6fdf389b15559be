package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/retry"
)

// fakeCompleter answers with a function of the user message.
type fakeCompleter struct {
	calls atomic.Int32
	fn    func(user string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []models.Message) (string, error) {
	f.calls.Add(1)
	return f.fn(messages[len(messages)-1].Content)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Call = retry.Policy{Attempts: 3, Initial: time.Millisecond}
	cfg.Batch = retry.Policy{Attempts: 3, Initial: time.Millisecond}
	return cfg
}

// upperEcho uppercases each marked record so results are traceable.
func upperEcho(user string) (string, error) {
	return strings.ToUpper(user), nil
}

func TestRefineCombined(t *testing.T) {
	fc := &fakeCompleter{fn: func(user string) (string, error) {
		// The template prefix is dropped, markers and bodies are kept.
		idx := strings.Index(user, "[[RECORD 1]]")
		return strings.ReplaceAll(user[idx:], "text", "TEXT"), nil
	}}
	d := New(fc, testConfig(), nil)

	items := []Item{{Key: "a", Text: "first text"}, {Key: "b", Text: "second text"}, {Key: "c", Text: "third text"}}
	results, err := d.Refine(context.Background(), "m", "Rewrite: {{content}}", items)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int32(1), fc.calls.Load())

	for i, want := range []string{"first TEXT", "second TEXT", "third TEXT"} {
		assert.Equal(t, items[i].Key, results[i].Key)
		assert.Equal(t, want, results[i].Text)
		assert.NoError(t, results[i].Err)
	}
}

func TestRefineCombinedMarkerMismatchFailsBatch(t *testing.T) {
	fc := &fakeCompleter{fn: func(user string) (string, error) {
		return "[[RECORD 1]]\nonly one", nil
	}}
	d := New(fc, testConfig(), nil)

	items := []Item{{Key: "a", Text: "x"}, {Key: "b", Text: "y"}}
	results, err := d.Refine(context.Background(), "m", "{{content}}", items)
	require.ErrorIs(t, err, ErrBatchFailed)
	require.ErrorIs(t, err, ErrRecordCountMismatch)
	assert.Nil(t, results)
	// One call per outer attempt; a mismatch is not retried by the inner policy.
	assert.Equal(t, int32(3), fc.calls.Load())
}

func TestRefineCombinedRecoversOnOuterRetry(t *testing.T) {
	var n atomic.Int32
	fc := &fakeCompleter{fn: func(user string) (string, error) {
		if n.Add(1) == 1 {
			return "garbage", nil
		}
		return "[[RECORD 1]] one [[RECORD 2]] two", nil
	}}
	d := New(fc, testConfig(), nil)

	results, err := d.Refine(context.Background(), "m", "", []Item{{Key: "a", Text: "1"}, {Key: "b", Text: "2"}})
	require.NoError(t, err)
	assert.Equal(t, "one", results[0].Text)
	assert.Equal(t, "two", results[1].Text)
}

func TestRefineIndividualIsolatesFailures(t *testing.T) {
	cfg := testConfig()
	cfg.CombinedLimit = 0
	fc := &fakeCompleter{fn: func(user string) (string, error) {
		if strings.Contains(user, "bad") {
			return "", errors.New("upstream 500")
		}
		return upperEcho(user)
	}}
	d := New(fc, cfg, nil)

	items := []Item{{Key: "a", Text: "good one"}, {Key: "b", Text: "bad one"}, {Key: "c", Text: "good two"}}
	results, err := d.Refine(context.Background(), "m", "{{content}}", items)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "GOOD ONE", results[0].Text)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "b", results[1].Key)
	assert.Equal(t, "GOOD TWO", results[2].Text)
	// One call each for the good records, three attempts for the bad one.
	assert.Equal(t, int32(5), fc.calls.Load())
}

func TestRefinePermanentErrorNotRetried(t *testing.T) {
	fatal := errors.New("invalid api key")
	cfg := testConfig()
	cfg.CombinedLimit = 0
	cfg.Permanent = func(err error) bool { return errors.Is(err, fatal) }
	fc := &fakeCompleter{fn: func(string) (string, error) { return "", fatal }}
	d := New(fc, cfg, nil)

	results, err := d.Refine(context.Background(), "m", "", []Item{{Key: "a", Text: "x"}})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, fatal)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestRefineEmptyResponseIsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.CombinedLimit = 0
	fc := &fakeCompleter{fn: func(string) (string, error) { return "  \n", nil }}
	d := New(fc, cfg, nil)

	results, err := d.Refine(context.Background(), "m", "", []Item{{Key: "a", Text: "x"}})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrEmptyResponse)
}

func TestRefineLargePageUsesIndividualPath(t *testing.T) {
	cfg := testConfig()
	cfg.CombinedLimit = 100
	fc := &fakeCompleter{fn: upperEcho}
	d := New(fc, cfg, nil)

	items := []Item{{Key: "a", Text: strings.Repeat("x", 80)}, {Key: "b", Text: strings.Repeat("y", 80)}}
	assert.False(t, d.UseCombined("", items))

	results, err := d.Refine(context.Background(), "m", "", items)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fc.calls.Load())
	assert.Equal(t, strings.Repeat("X", 80), results[0].Text)
}

func TestRefineIndividualConcurrencyBounded(t *testing.T) {
	cfg := testConfig()
	cfg.CombinedLimit = 0
	cfg.LightConcurrency = 2

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	fc := &fakeCompleter{fn: func(user string) (string, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return user, nil
	}}
	d := New(fc, cfg, nil)

	var items []Item
	for i := 0; i < 10; i++ {
		items = append(items, Item{Key: fmt.Sprint(i), Text: "t"})
	}
	_, err := d.Refine(context.Background(), "m", "", items)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen, 2)
}

func TestTimeoutClamp(t *testing.T) {
	d := New(nil, DefaultConfig(), nil)
	assert.Equal(t, 30*time.Second, d.Timeout(100))
	assert.Equal(t, 60*time.Second, d.Timeout(10000))
	assert.Equal(t, 180*time.Second, d.Timeout(1_000_000))
}

func TestConcurrency(t *testing.T) {
	d := New(nil, DefaultConfig(), nil)
	small := []Item{{Text: "abc"}}
	large := []Item{{Text: strings.Repeat("a", 30001)}}
	assert.Equal(t, 8, d.Concurrency(small))
	assert.Equal(t, 5, d.Concurrency(large))
}

func TestSplitCombined(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		want    []string
		wantErr bool
	}{
		{"ordered", "[[RECORD 1]]\na\n\n[[RECORD 2]]\nb", 2, []string{"a", "b"}, false},
		{"preamble ignored", "Sure!\n[[RECORD 1]] a", 1, []string{"a"}, false},
		{"too few", "[[RECORD 1]] a", 2, nil, true},
		{"too many", "[[RECORD 1]] a [[RECORD 2]] b", 1, nil, true},
		{"out of order", "[[RECORD 2]] a [[RECORD 1]] b", 2, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitCombined(tt.in, tt.n)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRecordCountMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFillTemplate(t *testing.T) {
	assert.Equal(t, "Fix: body", fillTemplate("Fix: {{content}}", "body"))
	assert.Equal(t, "Fix this\n\nbody", fillTemplate("Fix this", "body"))
	assert.Equal(t, "body", fillTemplate("  ", "body"))
}

package searcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
)

const corpus = `{"id":1,"title":"Python Programming","text":"python python language code","anchor_text":[{"id":2,"text":"python snake"}],"pagerank":0.9}
{"id":2,"title":"Python Snake","text":"python snake reptile","pagerank":0.2}
{"id":3,"title":"Java","text":"java language code coffee","anchor_text":[{"id":1,"text":"python language"}]}
{"id":4,"title":"Reptiles","text":"snake lizard reptile reptile"}
`

func openTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Indexes.Body.Dir = filepath.Join(root, "body")
	cfg.Indexes.Title.Dir = filepath.Join(root, "title")
	cfg.Indexes.Anchor.Dir = filepath.Join(root, "anchor")
	cfg.DocMeta.Dir = filepath.Join(root, "docmeta")
	cfg.Builder.MaxShardBytes = 24

	views := filepath.Join(root, "views.csv")
	require.NoError(t, os.WriteFile(views, []byte("doc_id,views\n1,100\n2,5000\n"), 0o644))
	cfg.Signals.PageViews = config.SignalSource{Source: config.SourceCSV, Path: views}

	b, err := indexer.NewBuilder(cfg, nil)
	require.NoError(t, err)
	_, err = b.AddJSONL(context.Background(), strings.NewReader(corpus))
	require.NoError(t, err)
	_, err = b.Build(context.Background())
	require.NoError(t, err)

	rt, err := Open(context.Background(), cfg, metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func docIDs(hits []ranker.ScoredDoc) []uint64 {
	out := make([]uint64, len(hits))
	for i, h := range hits {
		out[i] = h.DocID
	}
	return out
}

func TestScoreBody(t *testing.T) {
	core := openTestRuntime(t).Core
	res, err := core.ScoreBody(context.Background(), []string{"python"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, docIDs(res.Hits))
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
}

func TestScoreTitleCountsDistinctTerms(t *testing.T) {
	core := openTestRuntime(t).Core
	ctx := context.Background()

	res, err := core.ScoreTitle(ctx, []string{"python", "snake"})
	require.NoError(t, err)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 2, Score: 2}, {DocID: 1, Score: 1}}, res.Hits)

	res, err = core.ScoreTitle(ctx, []string{"python"})
	require.NoError(t, err)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 1, Score: 1}, {DocID: 2, Score: 1}}, res.Hits)
}

func TestScoreAnchor(t *testing.T) {
	core := openTestRuntime(t).Core
	res, err := core.ScoreAnchor(context.Background(), []string{"python"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, docIDs(res.Hits))
}

func TestCombinedSearch(t *testing.T) {
	core := openTestRuntime(t).Core
	ctx := context.Background()

	res, err := core.CombinedSearch(ctx, []string{"python", "snake"}, 10)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Empty(t, res.FailedTerms)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, uint64(2), res.Hits[0].DocID)
	assert.ElementsMatch(t, []uint64{1, 2, 4}, docIDs(res.Hits))

	res, err = core.CombinedSearch(ctx, []string{"python", "snake"}, 1)
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)

	res, err = core.CombinedSearch(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestLookups(t *testing.T) {
	core := openTestRuntime(t).Core

	pr := core.LookupPageRank([]uint64{1, 404})
	require.Len(t, pr, 2)
	assert.True(t, pr[0].Found)
	assert.InDelta(t, 0.9, pr[0].Value, 1e-6)
	assert.Equal(t, SignalValue{DocID: 404, Value: 0, Found: false}, pr[1])

	pv := core.LookupPageViews([]uint64{2, 3})
	assert.Equal(t, []SignalValue{
		{DocID: 2, Value: 5000, Found: true},
		{DocID: 3, Value: 0, Found: false},
	}, pv)

	title, err := core.Title(1)
	require.NoError(t, err)
	assert.Equal(t, "Python Programming", title)
	_, err = core.Title(404)
	assert.ErrorIs(t, err, apperrors.ErrUnknownDocument)
	assert.Equal(t, 4, core.DocCount())
}

func TestRuntimeHealthy(t *testing.T) {
	rt := openTestRuntime(t)
	assert.NoError(t, rt.Healthy())
	assert.Len(t, rt.Readers, 3)
}

func TestNewRequiresAllIndexes(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOpenFailsWithoutArtifacts(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Indexes.Body.Dir = dir
	cfg.Indexes.Title.Dir = dir
	cfg.Indexes.Anchor.Dir = dir
	cfg.DocMeta.Dir = dir
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, apperrors.ErrMetadataLoad)
}

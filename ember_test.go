package ember_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ember "github.com/emberindex/ember"
	"github.com/emberindex/ember/collector"
	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/query"
	"github.com/emberindex/ember/schema"
	"github.com/emberindex/ember/similarity"
)

func openStore(t *testing.T) *ember.IndexStore {
	t.Helper()
	s, err := ember.Create(t.TempDir(), ember.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func scorer() query.TermScorer {
	return query.TermScorer{Model: similarity.DefaultBM25(), Boost: 1.0}
}

func term(field string, text string) query.Query {
	return query.Term{Field: field, Term: []byte(text), Scorer: scorer()}
}

// TestBasicIndexing covers spec.md S1: insert one document, search for a
// term it contains, and find it.
func TestBasicIndexing(t *testing.T) {
	s := openStore(t)

	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)
	_, err = s.AddField("pk", schema.I64, schema.Stored)
	require.NoError(t, err)

	err = s.InsertOrUpdateDocument(ember.Document{
		Key: []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{
			title: {{Term: []byte("hello"), Position: 1}, {Term: []byte("world"), Position: 2}},
		},
	})
	require.NoError(t, err)

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	c := collector.NewTopScore(10)
	res, err := r.Search(context.Background(), c, term("title", "hello"))
	require.NoError(t, err)
	assert.False(t, res.TerminatedEarly)

	hits := c.Drain()
	require.Len(t, hits, 1)
}

// TestUpdateSemantics covers spec.md S2: re-inserting under the same
// primary key replaces the document entirely.
func TestUpdateSemantics(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
		Key:     []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{title: {{Term: []byte("hello")}}},
	}))
	require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
		Key:     []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{title: {{Term: []byte("goodbye")}}},
	}))

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	helloHits := collector.NewTopScore(10)
	_, err = r.Search(context.Background(), helloHits, term("title", "hello"))
	require.NoError(t, err)
	assert.Empty(t, helloHits.Drain())

	goodbyeHits := collector.NewTopScore(10)
	_, err = r.Search(context.Background(), goodbyeHits, term("title", "goodbye"))
	require.NoError(t, err)
	assert.Len(t, goodbyeHits.Drain(), 1)
}

// TestBooleanQueries covers spec.md S3: conjunction, disjunction and
// exclusion over three documents.
func TestBooleanQueries(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	insert := func(key string, terms ...string) {
		postings := make([]ember.Posting, len(terms))
		for i, w := range terms {
			postings[i] = ember.Posting{Term: []byte(w)}
		}
		require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
			Key:     []byte(key),
			Indexed: map[ids.FieldId][]ember.Posting{title: postings},
		}))
	}
	insert("d1", "foo")
	insert("d2", "bar")
	insert("d3", "foo", "bar")

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	search := func(q query.Query) int {
		c := collector.NewTopScore(10)
		_, err := r.Search(context.Background(), c, q)
		require.NoError(t, err)
		return len(c.Drain())
	}

	assert.Equal(t, 1, search(query.Conjunction{Clauses: []query.Query{term("title", "foo"), term("title", "bar")}}), "only d3 has both")
	assert.Equal(t, 3, search(query.Disjunction{Clauses: []query.Query{term("title", "foo"), term("title", "bar")}}))
	assert.Equal(t, 1, search(query.Exclude{Inner: term("title", "foo"), Excluded: term("title", "bar")}), "only d1 has foo without bar")
}

// TestTopScoreTruncation covers spec.md S4: TopScore(3) over ten
// single-token documents returns exactly three hits, strictly
// non-increasing by score.
func TestTopScoreTruncation(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	terms := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	for i, w := range terms {
		require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
			Key:     []byte{byte(i)},
			Indexed: map[ids.FieldId][]ember.Posting{title: {{Term: []byte(w)}}},
		}))
	}

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	clauses := make([]query.Query, len(terms))
	for i, w := range terms {
		clauses[i] = term("title", w)
	}

	c := collector.NewTopScore(3)
	_, err = r.Search(context.Background(), c, query.Disjunction{Clauses: clauses})
	require.NoError(t, err)

	hits := c.Drain()
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score, "scores must be non-increasing")
	}
}

// TestMergeInvariance covers spec.md S5: merging segments does not change
// how many documents a query matches.
func TestMergeInvariance(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	insert := func(key string, terms ...string) {
		postings := make([]ember.Posting, len(terms))
		for i, w := range terms {
			postings[i] = ember.Posting{Term: []byte(w)}
		}
		require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
			Key:     []byte(key),
			Indexed: map[ids.FieldId][]ember.Posting{title: postings},
		}))
	}
	for i := 0; i < 50; i++ {
		insert("foo-"+strconv.Itoa(i), "foo")
	}
	for i := 0; i < 50; i++ {
		insert("bar-"+strconv.Itoa(i), "bar")
	}

	countBefore := func() int {
		r, err := s.Reader()
		require.NoError(t, err)
		defer r.Close()
		c := &collector.TotalCount{}
		_, err = r.Search(context.Background(), c, query.Disjunction{Clauses: []query.Query{term("title", "foo"), term("title", "bar")}})
		require.NoError(t, err)
		return int(c.Count)
	}

	before := countBefore()
	require.Equal(t, 100, before)

	// Every InsertOrUpdateDocument call allocates a fresh segment off the
	// same monotonically increasing counter, so the 100 inserts above
	// landed in segments 1..100 in order.
	src := make([]ids.SegmentId, 100)
	for i := range src {
		src[i] = ids.SegmentId(i + 1)
	}
	_, err = s.MergeSegments(src)
	require.NoError(t, err)

	after := countBefore()
	assert.Equal(t, before, after, "match count unchanged by the merge")
}

// TestMultiTermPrefix covers spec.md S6: MultiTerm with a prefix selector
// matches every term sharing that prefix, averaging their scores.
func TestMultiTermPrefix(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	insert := func(key, term string) {
		require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
			Key:     []byte(key),
			Indexed: map[ids.FieldId][]ember.Posting{title: {{Term: []byte(term)}}},
		}))
	}
	insert("d1", "apple")
	insert("d2", "apricot")
	insert("d3", "banana")

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	c := collector.NewTopScore(10)
	q := query.MultiTerm{Field: "title", Selector: query.PrefixSelector{Prefix: []byte("ap")}, Scorer: scorer()}
	_, err = r.Search(context.Background(), c, q)
	require.NoError(t, err)

	hits := c.Drain()
	assert.Len(t, hits, 2, "apple and apricot match the \"ap\" prefix, banana does not")
}

func TestSearchRespectsCancellation(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)
	require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
		Key:     []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{title: {{Term: []byte("hello")}}},
	}))

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := collector.NewTopScore(10)
	res, err := r.Search(ctx, c, term("title", "hello"))
	require.NoError(t, err)
	assert.True(t, res.TerminatedEarly)
}

func TestUnknownFieldDegradesToNoMatch(t *testing.T) {
	s := openStore(t)
	_, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)
	require.NoError(t, s.InsertOrUpdateDocument(ember.Document{
		Key:     []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{1: {{Term: []byte("hello")}}},
	}))

	r, err := s.Reader()
	require.NoError(t, err)
	defer r.Close()

	c := collector.NewTopScore(10)
	_, err = r.Search(context.Background(), c, term("nonexistent-field", "hello"))
	require.NoError(t, err)
	assert.Empty(t, c.Drain())
}

func TestAddFieldRejectsDuplicateName(t *testing.T) {
	s := openStore(t)
	_, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)
	_, err = s.AddField("title", schema.Text, schema.Indexed)
	assert.ErrorIs(t, err, ember.ErrFieldExists)
}

// TestStatsReportsPerSegmentCounters covers the Stats() supplemented
// feature: each InsertOrUpdateDocument call flushes its own segment
// (spec.md §6), so three inserts plus one replace should report four
// active segments, one of which carries a single deleted doc.
func TestStatsReportsPerSegmentCounters(t *testing.T) {
	s := openStore(t)
	title, err := s.AddField("title", schema.Text, schema.Indexed)
	require.NoError(t, err)

	for _, key := range []string{"d1", "d2", "d3"} {
		err = s.InsertOrUpdateDocument(ember.Document{
			Key: []byte(key),
			Indexed: map[ids.FieldId][]ember.Posting{
				title: {{Term: []byte("hello"), Position: 1}},
			},
		})
		require.NoError(t, err)
	}

	// Re-inserting under d1's key retires its original segment slot,
	// leaving that segment with one deleted doc and one live segment of
	// its own.
	err = s.InsertOrUpdateDocument(ember.Document{
		Key: []byte("d1"),
		Indexed: map[ids.FieldId][]ember.Posting{
			title: {{Term: []byte("goodbye"), Position: 1}},
		},
	})
	require.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 4)

	var totalLive, totalDeleted int64
	for _, st := range stats {
		assert.Equal(t, int64(1), st.TotalDocs, "every single-document segment has total_docs 1")
		totalLive += st.TotalDocs - st.DeletedDocs
		totalDeleted += st.DeletedDocs
	}
	assert.EqualValues(t, 3, totalLive, "d1, d2, d3 each have exactly one live slot")
	assert.EqualValues(t, 1, totalDeleted, "d1's original segment was retired by the replace")
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-go/pkg/chunker"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/lock"
	"docchat-go/pkg/vectorstore"
)

type fakeExtractor struct {
	texts map[string]string
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.texts[path], nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", &llm.GenerationError{Provider: "fake", Cause: f.err}
	}
	return f.answer, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// flakyIndex 在第 failAt 次 Upsert 时返回错误。
type flakyIndex struct {
	*vectorstore.MemoryIndex
	upserts int
	failAt  int
}

func (f *flakyIndex) Upsert(ctx context.Context, e vectorstore.Entry) error {
	f.upserts++
	if f.upserts == f.failAt {
		return errors.New("index unavailable")
	}
	return f.MemoryIndex.Upsert(ctx, e)
}

// flakyEmbedder 在第 failAt 次调用时返回错误。
type flakyEmbedder struct {
	embedding.Client
	calls  int
	failAt int
}

func (f *flakyEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("embedding quota exceeded")
	}
	return f.Client.CreateEmbedding(ctx, text)
}

func words(prefix string, n int) string {
	ws := make([]string, n)
	for i := range ws {
		ws[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(ws, " ")
}

type fixture struct {
	p         *Pipeline
	extractor *fakeExtractor
	index     vectorstore.Index
	gen       *fakeGenerator
}

func newFixture(t *testing.T, index vectorstore.Index, embedder embedding.Client) *fixture {
	t.Helper()
	chk, err := chunker.New(10, 2)
	require.NoError(t, err)
	if index == nil {
		index = vectorstore.NewMemoryIndex(64)
	}
	if embedder == nil {
		embedder = embedding.NewHashClient(64)
	}
	f := &fixture{
		extractor: &fakeExtractor{texts: map[string]string{}},
		index:     index,
		gen:       &fakeGenerator{answer: "generated answer"},
	}
	f.p = New(f.extractor, chk, embedder, index, f.gen, lock.NewKeyedMutex(), Options{})
	return f
}

func count(t *testing.T, idx vectorstore.Index) int {
	t.Helper()
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestProcess_IndexesAllChunks(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.extractor.texts["a.txt"] = words("w", 25)

	n, err := f.p.Process(context.Background(), Document{ID: 1, Title: "Alpha", FilePath: "a.txt"})
	require.NoError(t, err)
	// ceil(25 / (10-2)) = 4
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, count(t, f.index))
}

func TestProcess_ReprocessingDoesNotGrowIndex(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = words("w", 25)
	doc := Document{ID: 1, Title: "Alpha", FilePath: "a.txt"}

	_, err := f.p.Process(ctx, doc)
	require.NoError(t, err)
	_, err = f.p.Process(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 4, count(t, f.index))

	// 文档变短后旧的尾部分块也会被清除
	f.extractor.texts["a.txt"] = words("w", 5)
	n, err := f.p.Process(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, count(t, f.index))
}

func TestProcess_EmptyTextIndexesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.extractor.texts["empty.txt"] = "   "

	n, err := f.p.Process(context.Background(), Document{ID: 3, FilePath: "empty.txt"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, count(t, f.index))
}

func TestProcess_ExtractionErrorPropagates(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.extractor.err = fmt.Errorf("%w: x.pptx", extractor.ErrUnsupportedFormat)

	_, err := f.p.Process(context.Background(), Document{ID: 1, FilePath: "x.pptx"})
	assert.ErrorIs(t, err, extractor.ErrUnsupportedFormat)
	assert.Equal(t, 0, count(t, f.index))
}

func TestProcess_RollsBackOnIndexFailure(t *testing.T) {
	idx := &flakyIndex{MemoryIndex: vectorstore.NewMemoryIndex(64), failAt: 3}
	f := newFixture(t, idx, nil)
	ctx := context.Background()

	// 另一个文档的分块不受影响
	f.extractor.texts["other.txt"] = words("o", 5)
	_, err := f.p.Process(ctx, Document{ID: 2, FilePath: "other.txt"})
	require.NoError(t, err)

	f.extractor.texts["a.txt"] = words("w", 25)
	_, err = f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")

	assert.Equal(t, 1, count(t, idx))
	matches, err := idx.Query(ctx, make64(), 10, "")
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, uint(2), m.Metadata.DocumentID)
	}
}

func TestProcess_RollsBackOnEmbeddingFailure(t *testing.T) {
	emb := &flakyEmbedder{Client: embedding.NewHashClient(64), failAt: 2}
	f := newFixture(t, nil, emb)
	f.extractor.texts["a.txt"] = words("w", 25)

	_, err := f.p.Process(context.Background(), Document{ID: 1, FilePath: "a.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding quota exceeded")
	assert.Equal(t, 0, count(t, f.index))
}

func TestProcess_EntryMetadata(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.extractor.texts["a.txt"] = words("w", 12)

	_, err := f.p.Process(context.Background(), Document{ID: 9, Title: "Nine", FilePath: "a.txt"})
	require.NoError(t, err)

	matches, err := f.p.Retrieve(context.Background(), "w0 w1 w2", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	texts := map[int]string{}
	for _, m := range matches {
		assert.Equal(t, uint(9), m.Metadata.DocumentID)
		assert.Equal(t, "Nine", m.Metadata.DocumentTitle)
		texts[m.Metadata.ChunkIndex] = m.Text
	}
	assert.Equal(t, map[int]string{
		0: "w0 w1 w2 w3 w4 w5 w6 w7 w8 w9",
		1: "w8 w9 w10 w11",
	}, texts)
}

func TestRemove_DeletesOnlyThatDocument(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = words("a", 20)
	f.extractor.texts["b.txt"] = words("b", 20)
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)
	_, err = f.p.Process(ctx, Document{ID: 2, FilePath: "b.txt"})
	require.NoError(t, err)

	// 每个文档 20 个词，步长 8，各 3 个分块
	before := count(t, f.index)
	removed, err := f.p.Indexed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	require.NoError(t, f.p.Remove(ctx, 1))

	assert.Equal(t, before-removed, count(t, f.index))
	n, err := f.p.Indexed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = f.p.Indexed(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := f.p.Retrieve(ctx, "a1 a2", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, uint(2), m.Metadata.DocumentID)
	}
}

func TestProcess_GuardErrorSkipsIndexing(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = words("w", 25)
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)

	gone := errors.New("document deleted")
	_, err = f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt", Guard: func(context.Context) error { return gone }})
	assert.ErrorIs(t, err, gone)
	// Guard 失败时不动已有分块
	assert.Equal(t, 4, count(t, f.index))
}

func TestRemoveThen_RunsUnderDocumentLock(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = words("w", 25)
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)

	var deleted bool
	var mu sync.Mutex
	guard := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if deleted {
			return errors.New("document deleted")
		}
		return nil
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.p.RemoveThen(ctx, 1, func(context.Context) error {
			close(started)
			<-release
			mu.Lock()
			deleted = true
			mu.Unlock()
			return nil
		})
	}()
	<-started

	// 删除尚未完成时发起的入库必须等待锁，拿到锁后 Guard 发现文档已删除
	processed := make(chan error, 1)
	go func() {
		_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt", Guard: guard})
		processed <- err
	}()
	close(release)

	require.NoError(t, <-done)
	assert.Error(t, <-processed)
	assert.Equal(t, 0, count(t, f.index))
}

func TestRemoveThen_PropagatesError(t *testing.T) {
	f := newFixture(t, nil, nil)
	boom := errors.New("blob store down")

	err := f.p.RemoveThen(context.Background(), 1, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetrieve_IgnoresOtherModelVersions(t *testing.T) {
	idx := vectorstore.NewMemoryIndex(64)
	f := newFixture(t, idx, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = words("w", 12)
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)

	// 旧模型留下的分块
	require.NoError(t, idx.Upsert(ctx, vectorstore.Entry{
		ID:           vectorstore.EntryID(5, 0),
		Embedding:    make64(),
		Text:         "stale",
		Metadata:     vectorstore.Metadata{DocumentID: 5},
		ModelVersion: "retired-model",
	}))

	matches, err := f.p.Retrieve(ctx, "w0 w1", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, uint(1), m.Metadata.DocumentID)
	}
}

func TestChat_EmptyIndexReturnsGuidance(t *testing.T) {
	f := newFixture(t, nil, nil)

	answer := f.p.Chat(context.Background(), "anything")
	assert.Equal(t, DefaultNoDocumentsText, answer)
	assert.Equal(t, 0, f.gen.calls())
}

func TestChat_BuildsPromptFromRetrievedChunks(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["go.txt"] = "goroutines are lightweight threads managed by the runtime"
	_, err := f.p.Process(ctx, Document{ID: 1, Title: "Go", FilePath: "go.txt"})
	require.NoError(t, err)

	answer := f.p.Ask(ctx, "what are goroutines?")
	assert.Equal(t, "generated answer", answer.Text)
	require.Len(t, answer.Sources, 1)
	require.Equal(t, 1, f.gen.calls())

	prompt := f.gen.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, DefaultPreamble))
	assert.Contains(t, prompt, "Context from documents:\ngoroutines are lightweight threads managed by the runtime\n\n")
	assert.Contains(t, prompt, "Question: what are goroutines?")
}

func TestChat_RetrievesAtMostTopK(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["long.txt"] = words("w", 80)
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "long.txt"})
	require.NoError(t, err)

	answer := f.p.Ask(ctx, "w1")
	assert.Len(t, answer.Sources, DefaultTopK)
}

func TestChat_GenerationFailureBecomesAnswer(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = "some indexed content"
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)

	f.gen.err = errors.New("429 quota exhausted")
	answer := f.p.Chat(ctx, "question")
	assert.Equal(t, "Error generating response: 429 quota exhausted", answer)
}

func TestChat_RetrievalFailureBecomesAnswer(t *testing.T) {
	emb := &flakyEmbedder{Client: embedding.NewHashClient(64), failAt: 2}
	f := newFixture(t, nil, emb)
	ctx := context.Background()
	f.extractor.texts["a.txt"] = "tiny"
	_, err := f.p.Process(ctx, Document{ID: 1, FilePath: "a.txt"})
	require.NoError(t, err)

	answer := f.p.Chat(ctx, "question")
	assert.True(t, strings.HasPrefix(answer, "Error retrieving context:"))
	assert.Equal(t, 0, f.gen.calls())
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Preamble.", []string{"first chunk", "second chunk"}, "Why?")
	assert.Equal(t, "Preamble.\n\nContext from documents:\nfirst chunk\n\nsecond chunk\n\nQuestion: Why?\n\n"+
		"Please provide a detailed answer based on the context above. "+
		"If the context doesn't contain enough information to answer the question, say so clearly.", prompt)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultTopK, o.TopK)
	assert.Equal(t, DefaultPreamble, o.Preamble)
	assert.Equal(t, DefaultNoDocumentsText, o.NoDocumentsText)

	o = Options{TopK: 5, NoDocumentsText: "upload first"}.withDefaults()
	assert.Equal(t, 5, o.TopK)
	assert.Equal(t, "upload first", o.NoDocumentsText)
}

func make64() []float32 {
	v := make([]float32, 64)
	v[0] = 1
	return v
}

// Package pipeline 定义了文档入库与检索增强问答的核心流程。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docchat-go/pkg/chunker"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"
	"docchat-go/pkg/vectorstore"
)

const (
	// DefaultPreamble 是提示词开头的固定指令。
	DefaultPreamble = "You are a helpful assistant that answers questions based on the provided context."
	// DefaultNoDocumentsText 是索引为空时返回给用户的提示。
	DefaultNoDocumentsText = "I don't have any documents to reference. Please upload some documents first."
	DefaultTopK            = 3
)

// Document 是待入库文档的最小描述，FilePath 指向本地可读的文件。
type Document struct {
	ID       uint
	Title    string
	FilePath string
	// Guard 在持有文档锁之后、写索引之前调用，返回错误则放弃本次处理。
	// 用于确认文档在排队期间没有被删除。
	Guard func(ctx context.Context) error
}

// TextExtractor 从文件中提取纯文本。
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// DocumentLocker 串行化同一文档的写操作。
type DocumentLocker interface {
	Lock(ctx context.Context, documentID uint) (unlock func(), err error)
}

// Options 控制检索与提示词组装。
type Options struct {
	TopK            int
	Preamble        string
	NoDocumentsText string
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Preamble == "" {
		o.Preamble = DefaultPreamble
	}
	if o.NoDocumentsText == "" {
		o.NoDocumentsText = DefaultNoDocumentsText
	}
	return o
}

// Pipeline 封装了入库与问答的所有依赖。应在启动时构造一次并在请求间共享。
type Pipeline struct {
	extractor TextExtractor
	chunker   *chunker.Chunker
	embedder  embedding.Client
	index     vectorstore.Index
	generator llm.Client
	locker    DocumentLocker
	opts      Options
}

// New 创建一个新的 Pipeline 实例。
func New(
	extractor TextExtractor,
	chk *chunker.Chunker,
	embedder embedding.Client,
	index vectorstore.Index,
	generator llm.Client,
	locker DocumentLocker,
	opts Options,
) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		chunker:   chk,
		embedder:  embedder,
		index:     index,
		generator: generator,
		locker:    locker,
		opts:      opts.withDefaults(),
	}
}

// Index 返回底层向量索引。
func (p *Pipeline) Index() vectorstore.Index { return p.index }

// Process 提取、分块、向量化并索引一个文档，返回分块数量。
// 失败时该文档在索引中不会残留任何分块。
func (p *Pipeline) Process(ctx context.Context, doc Document) (int, error) {
	start := time.Now()
	log.Infof("[Pipeline] 开始处理文档, DocumentID: %d, Title: %s", doc.ID, doc.Title)

	unlock, err := p.locker.Lock(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("lock document %d: %w", doc.ID, err)
	}
	defer unlock()

	if doc.Guard != nil {
		if err := doc.Guard(ctx); err != nil {
			log.Warnf("[Pipeline] 文档 %d 已不可处理, 跳过: %v", doc.ID, err)
			return 0, err
		}
	}

	// 1. 提取文本
	text, err := p.extractor.Extract(ctx, doc.FilePath)
	if err != nil {
		log.Errorf("[Pipeline] 文本提取失败, DocumentID: %d, Error: %v", doc.ID, err)
		return 0, err
	}
	log.Infof("[Pipeline] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 2. 分块
	chunks := p.chunker.Chunk(text)
	log.Infof("[Pipeline] 步骤2: 文本分块完成, chunkSize: %d, overlap: %d, 共 %d 个分块",
		p.chunker.ChunkSize(), p.chunker.Overlap(), len(chunks))

	// 3. 清理旧分块，避免重新处理后残留更长旧版本的尾部分块
	if err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
		log.Errorf("[Pipeline] 清理旧分块失败, DocumentID: %d, Error: %v", doc.ID, err)
		return 0, fmt.Errorf("clear previous chunks of document %d: %w", doc.ID, err)
	}

	// 4. 向量化并写入索引
	modelVersion := p.embedder.Model()
	for i, chunk := range chunks {
		vector, err := p.embedder.CreateEmbedding(ctx, chunk)
		if err != nil {
			p.rollback(ctx, doc.ID)
			return 0, fmt.Errorf("embed chunk %d of document %d: %w", i, doc.ID, err)
		}
		entry := vectorstore.Entry{
			ID:        vectorstore.EntryID(doc.ID, i),
			Embedding: vector,
			Text:      chunk,
			Metadata: vectorstore.Metadata{
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
				ChunkIndex:    i,
			},
			ModelVersion: modelVersion,
		}
		if err := p.index.Upsert(ctx, entry); err != nil {
			p.rollback(ctx, doc.ID)
			return 0, fmt.Errorf("index chunk %d of document %d: %w", i, doc.ID, err)
		}
	}

	log.Infof("[Pipeline] 文档处理完成, DocumentID: %d, 分块数: %d, 耗时: %s", doc.ID, len(chunks), time.Since(start))
	return len(chunks), nil
}

// rollback 删除文档已写入的分块。调用方的 ctx 可能已取消，所以不继承取消信号。
func (p *Pipeline) rollback(ctx context.Context, documentID uint) {
	log.Warnf("[Pipeline] 入库失败, 回滚文档 %d 的已索引分块", documentID)
	if err := p.index.DeleteByDocument(context.WithoutCancel(ctx), documentID); err != nil {
		log.Errorf("[Pipeline] 回滚文档 %d 失败: %v", documentID, err)
	}
}

// Remove 从索引中删除文档的全部分块。
func (p *Pipeline) Remove(ctx context.Context, documentID uint) error {
	return p.RemoveThen(ctx, documentID, nil)
}

// RemoveThen 删除文档的全部分块后在同一把锁内执行 then，
// 保证删除文件和记录期间不会有并发的入库重新写入分块。
func (p *Pipeline) RemoveThen(ctx context.Context, documentID uint, then func(ctx context.Context) error) error {
	unlock, err := p.locker.Lock(ctx, documentID)
	if err != nil {
		return fmt.Errorf("lock document %d: %w", documentID, err)
	}
	defer unlock()

	if err := p.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("remove chunks of document %d: %w", documentID, err)
	}
	log.Infof("[Pipeline] 已删除文档 %d 的全部分块", documentID)
	if then != nil {
		return then(ctx)
	}
	return nil
}

// Indexed 返回文档当前在索引中的分块数。
func (p *Pipeline) Indexed(ctx context.Context, documentID uint) (int, error) {
	n, err := p.index.CountByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("count chunks of document %d: %w", documentID, err)
	}
	return n, nil
}

// Retrieve 返回与问题最相似的 k 个分块。
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]vectorstore.Match, error) {
	count, err := p.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count index entries: %w", err)
	}
	if count == 0 || k <= 0 {
		return []vectorstore.Match{}, nil
	}

	vector, err := p.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// 只检索当前模型生成的向量，换模型后的旧分块等重新入库
	return p.index.Query(ctx, vector, k, p.embedder.Model())
}

// Answer 是一次问答的结果，Sources 为参与组装提示词的分块。
type Answer struct {
	Text    string
	Sources []vectorstore.Match
}

// Chat 回答问题。该方法不返回错误：所有失败都转换为可读的回答文本。
func (p *Pipeline) Chat(ctx context.Context, query string) string {
	return p.Ask(ctx, query).Text
}

// Ask 与 Chat 相同，但额外返回检索到的来源分块。
func (p *Pipeline) Ask(ctx context.Context, query string) Answer {
	matches, err := p.Retrieve(ctx, query, p.opts.TopK)
	if err != nil {
		log.Errorf("[Pipeline] 检索失败: %v", err)
		return Answer{Text: fmt.Sprintf("Error retrieving context: %v", err), Sources: []vectorstore.Match{}}
	}
	if len(matches) == 0 {
		log.Info("[Pipeline] 索引为空, 返回引导提示")
		return Answer{Text: p.opts.NoDocumentsText, Sources: matches}
	}

	chunks := make([]string, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, m.Text)
	}
	prompt := p.buildPrompt(chunks, query)

	log.Infof("[Pipeline] 检索到 %d 个分块, 提示词长度: %d", len(matches), len(prompt))
	return Answer{Text: p.generate(ctx, prompt).String(), Sources: matches}
}

// generation 是一次生成调用的结果，要么是回答，要么是失败原因。
type generation struct {
	text string
	err  error
}

func (g generation) String() string {
	if g.err != nil {
		return fmt.Sprintf("Error generating response: %v", g.err)
	}
	return g.text
}

func (p *Pipeline) generate(ctx context.Context, prompt string) generation {
	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return generation{err: err}
	}
	return generation{text: text}
}

func (p *Pipeline) buildPrompt(chunks []string, query string) string {
	return BuildPrompt(p.opts.Preamble, chunks, query)
}

// BuildPrompt 组装发送给模型的提示词：指令、以空行分隔的上下文分块、原始问题。
func BuildPrompt(preamble string, chunks []string, query string) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\nContext from documents:\n")
	sb.WriteString(strings.Join(chunks, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPlease provide a detailed answer based on the context above. ")
	sb.WriteString("If the context doesn't contain enough information to answer the question, say so clearly.")
	return sb.String()
}

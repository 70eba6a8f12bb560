// Package app 负责按配置组装所有组件，供 server 与 ragctl 共用。
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"docchat-go/internal/config"
	"docchat-go/internal/handler"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/internal/service"
	"docchat-go/pkg/chunker"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/kafka"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/lock"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/vectorstore"
)

// App 持有组装完成的服务。
type App struct {
	cfg       config.Config
	rdb       *redis.Client
	index     vectorstore.Index
	pipeline  *pipeline.Pipeline
	producer  *kafka.Producer
	Documents service.DocumentService
	Chats     service.ChatService
}

// Options 控制组装方式。
type Options struct {
	// Async 为 true 且配置启用了 Kafka 时，上传只投递任务，由消费者入库。
	Async bool
}

// New 组装存储、向量化、索引、生成与业务服务。db 必须已迁移，rdb 可以为 nil。
func New(ctx context.Context, cfg config.Config, db *gorm.DB, rdb *redis.Client, opts Options) (*App, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("init embedding client: %w", err)
	}
	index, err := vectorstore.NewIndex(ctx, cfg.VectorStore, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	generator, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	chk, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	var locker pipeline.DocumentLocker = lock.NewKeyedMutex()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, 10*time.Minute)
	}

	pipe := pipeline.New(
		extractor.New(cfg.Extractor.Timeout()),
		chk,
		embedder,
		index,
		generator,
		locker,
		pipeline.Options{
			TopK:            cfg.RAG.TopK,
			Preamble:        cfg.RAG.Preamble,
			NoDocumentsText: cfg.RAG.NoDocumentsText,
		},
	)

	a := &App{cfg: cfg, rdb: rdb, index: index, pipeline: pipe}
	var publisher service.TaskPublisher
	if opts.Async && cfg.Kafka.Enabled {
		a.producer = kafka.NewProducer(cfg.Kafka)
		publisher = a.producer
	}
	a.Documents = service.NewDocumentService(repository.NewDocumentRepository(db), store, pipe, publisher)
	a.Chats = service.NewChatService(repository.NewChatRepository(db), pipe)

	log.Infof("组件初始化完成, storage: %s, vector_store: %s, embedding: %s, llm: %s, async: %t",
		cfg.Storage.Backend, cfg.VectorStore.Backend, embedder.Model(), cfg.LLM.Provider, a.producer != nil)
	return a, nil
}

// Index 返回向量索引。
func (a *App) Index() vectorstore.Index { return a.index }

// Pipeline 返回入库与问答流程。
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Handlers 创建 HTTP 控制器。
func (a *App) Handlers() handler.Handlers {
	return handler.Handlers{
		Document: handler.NewDocumentHandler(a.Documents, a.cfg.Server.MaxUploadMB),
		Chat:     handler.NewChatHandler(a.Chats),
		Index:    handler.NewIndexHandler(a.index),
	}
}

// Reconcile 为分块缺失的已处理文档重建索引。
// 内存索引在进程重启后为空，而文档记录和原始文件仍在，需在对外服务前调用。
func (a *App) Reconcile(ctx context.Context) (int, error) {
	n, err := a.Documents.Reconcile(ctx)
	if err != nil {
		log.Warnf("部分文档索引重建失败: %v", err)
	}
	return n, err
}

// StartWorkers 在异步模式下启动 Kafka 消费者，直到 ctx 结束。
func (a *App) StartWorkers(ctx context.Context) {
	if a.producer == nil {
		return
	}
	var attempts kafka.AttemptCounter = kafka.NewMemoryAttempts()
	if a.rdb != nil {
		attempts = kafka.NewRedisAttempts(a.rdb)
	}
	go kafka.StartConsumer(ctx, a.cfg.Kafka, a.Documents, attempts)
}

// Close 释放 Kafka 生产者。
func (a *App) Close() {
	if a.producer == nil {
		return
	}
	if err := a.producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}

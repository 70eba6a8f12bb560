package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"docchat-go/internal/model"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/tasks"
)

// Ingestor 是 DocumentService 使用的入库流程。
type Ingestor interface {
	Process(ctx context.Context, doc pipeline.Document) (int, error)
	Remove(ctx context.Context, documentID uint) error
	// RemoveThen 删除分块后在同一把文档锁内执行 then。
	RemoveThen(ctx context.Context, documentID uint, then func(ctx context.Context) error) error
	// Indexed 返回文档当前在索引中的分块数。
	Indexed(ctx context.Context, documentID uint) (int, error)
}

// TaskPublisher 把入库任务交给异步消费者。
type TaskPublisher interface {
	ProduceDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error
}

// UploadRequest 描述一次文档上传。
type UploadRequest struct {
	Title    string
	FileName string
	Content  io.Reader
	Size     int64
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// Upload 保存文件并入库。同步模式下返回时文档已处理完成；异步模式下文档处于未处理状态。
	Upload(ctx context.Context, req UploadRequest) (*model.Document, error)
	// Ingest 对已保存的文档执行入库并标记为已处理。
	Ingest(ctx context.Context, id uint) (*model.Document, error)
	Delete(ctx context.Context, id uint) error
	List() ([]model.Document, error)
	ListProcessed() ([]model.Document, error)
	Get(id uint) (*model.Document, error)
	// FindByMD5 返回内容相同的已有文档，不存在时返回 ErrDocumentNotFound。
	FindByMD5(fileMD5 string) (*model.Document, error)
	// EnsureIndexed 在已处理文档的分块缺失时从原始文件重新入库，返回是否重建。
	EnsureIndexed(ctx context.Context, id uint) (bool, error)
	// Reconcile 对所有已处理文档执行 EnsureIndexed，返回重建的文档数。
	Reconcile(ctx context.Context) (int, error)

	// ProcessTask 与 AbandonTask 供 Kafka 消费者调用。
	ProcessTask(ctx context.Context, task tasks.DocumentProcessingTask) error
	AbandonTask(ctx context.Context, task tasks.DocumentProcessingTask, cause error)
}

type documentService struct {
	docRepo   repository.DocumentRepository
	store     storage.Store
	ingestor  Ingestor
	publisher TaskPublisher
}

// NewDocumentService 创建一个新的 DocumentService 实例。publisher 为 nil 时同步入库。
func NewDocumentService(docRepo repository.DocumentRepository, store storage.Store, ingestor Ingestor, publisher TaskPublisher) DocumentService {
	return &documentService{
		docRepo:   docRepo,
		store:     store,
		ingestor:  ingestor,
		publisher: publisher,
	}
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	if !extractor.Supported(ext) {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFileType, ext, strings.Join(extractor.SupportedExtensions(), ", "))
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.FileName
	}

	// 1. 保存原始文件，同时计算 MD5
	key := fmt.Sprintf("documents/%s%s", uuid.NewString(), ext)
	h := md5.New()
	if err := s.store.Put(ctx, key, io.TeeReader(req.Content, h), req.Size); err != nil {
		log.Errorf("[DocumentService] 保存文件失败, FileName: %s, Error: %v", req.FileName, err)
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}

	// 2. 创建文档记录
	doc := &model.Document{
		Title:         title,
		FileName:      req.FileName,
		FileExtension: ext,
		ObjectKey:     key,
		FileMD5:       hex.EncodeToString(h.Sum(nil)),
		Size:          req.Size,
	}
	if err := s.docRepo.Create(doc); err != nil {
		_ = s.store.Remove(ctx, key)
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已保存, DocumentID: %d, Title: %s", doc.ID, doc.Title)

	// 3a. 异步入库
	if s.publisher != nil {
		task := tasks.DocumentProcessingTask{DocumentID: doc.ID, ObjectKey: key, Title: title}
		if err := s.publisher.ProduceDocumentTask(ctx, task); err != nil {
			log.Errorf("[DocumentService] 发送入库任务失败, DocumentID: %d, Error: %v", doc.ID, err)
			s.discard(ctx, doc)
			return nil, fmt.Errorf("发送入库任务失败: %w", err)
		}
		return doc, nil
	}

	// 3b. 同步入库，失败时不保留文档
	if err := s.ingest(ctx, doc); err != nil {
		s.discard(ctx, doc)
		return nil, err
	}
	return doc, nil
}

func (s *documentService) Ingest(ctx context.Context, id uint) (*model.Document, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.ingest(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *documentService) ingest(ctx context.Context, doc *model.Document) error {
	path, cleanup, err := s.store.Fetch(ctx, doc.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// 文件被并发删除时记录通常也已不存在
			if _, getErr := s.Get(doc.ID); errors.Is(getErr, ErrDocumentNotFound) {
				return getErr
			}
		}
		return fmt.Errorf("读取文件失败: %w", err)
	}
	defer cleanup()

	n, err := s.ingestor.Process(ctx, pipeline.Document{
		ID:       doc.ID,
		Title:    doc.Title,
		FilePath: path,
		// 持锁后再确认一次记录仍在，避免把已删除的文档写回索引
		Guard: func(ctx context.Context) error {
			_, err := s.Get(doc.ID)
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("处理文档失败: %w", err)
	}
	if err := s.docRepo.MarkProcessed(doc.ID, n); err != nil {
		// 记录无法标记时撤销已写入的分块
		_ = s.ingestor.Remove(context.WithoutCancel(ctx), doc.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrDocumentNotFound, doc.ID)
		}
		return fmt.Errorf("标记文档已处理失败: %w", err)
	}
	doc.Processed = true
	doc.ChunkCount = n
	log.Infof("[DocumentService] 文档入库完成, DocumentID: %d, 分块数: %d", doc.ID, n)
	return nil
}

// discard 删除文档的记录和原始文件。
func (s *documentService) discard(ctx context.Context, doc *model.Document) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Remove(ctx, doc.ObjectKey); err != nil {
		log.Warnf("[DocumentService] 删除文件失败, DocumentID: %d, Error: %v", doc.ID, err)
	}
	if err := s.docRepo.Delete(doc.ID); err != nil {
		log.Warnf("[DocumentService] 删除文档记录失败, DocumentID: %d, Error: %v", doc.ID, err)
	}
}

// Delete 在文档锁内依次删除索引中的分块、原始文件和记录。
func (s *documentService) Delete(ctx context.Context, id uint) error {
	doc, err := s.Get(id)
	if err != nil {
		return err
	}
	err = s.ingestor.RemoveThen(ctx, id, func(ctx context.Context) error {
		if err := s.store.Remove(ctx, doc.ObjectKey); err != nil {
			log.Warnf("[DocumentService] 删除文件失败, DocumentID: %d, Error: %v", id, err)
		}
		if err := s.docRepo.Delete(id); err != nil {
			return fmt.Errorf("删除文档记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("[DocumentService] 文档已删除, DocumentID: %d", id)
	return nil
}

func (s *documentService) EnsureIndexed(ctx context.Context, id uint) (bool, error) {
	doc, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if !doc.Processed || doc.ChunkCount == 0 {
		return false, nil
	}
	n, err := s.ingestor.Indexed(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	if n == doc.ChunkCount {
		return false, nil
	}

	log.Warnf("[DocumentService] 文档分块缺失, 重新入库, DocumentID: %d, 记录分块数: %d, 索引中: %d", doc.ID, doc.ChunkCount, n)
	if err := s.ingest(ctx, doc); err != nil {
		return false, fmt.Errorf("重建文档 %d 索引失败: %w", doc.ID, err)
	}
	return true, nil
}

func (s *documentService) Reconcile(ctx context.Context) (int, error) {
	docs, err := s.docRepo.FindProcessed()
	if err != nil {
		return 0, err
	}
	var (
		rebuilt int
		errs    []error
	)
	for _, doc := range docs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.EnsureIndexed(ctx, doc.ID)
		if err != nil {
			// 单个文档失败不影响其他文档
			log.Errorf("[DocumentService] 重建索引失败, DocumentID: %d, Error: %v", doc.ID, err)
			errs = append(errs, err)
			continue
		}
		if ok {
			rebuilt++
		}
	}
	if rebuilt > 0 {
		log.Infof("[DocumentService] 索引重建完成, 共重建 %d 个文档", rebuilt)
	}
	return rebuilt, errors.Join(errs...)
}

func (s *documentService) List() ([]model.Document, error) {
	return s.docRepo.FindAll()
}

func (s *documentService) ListProcessed() ([]model.Document, error) {
	return s.docRepo.FindProcessed()
}

func (s *documentService) Get(id uint) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	return doc, err
}

func (s *documentService) FindByMD5(fileMD5 string) (*model.Document, error) {
	doc, err := s.docRepo.FindByMD5(fileMD5)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: md5 %s", ErrDocumentNotFound, fileMD5)
	}
	return doc, err
}

func (s *documentService) ProcessTask(ctx context.Context, task tasks.DocumentProcessingTask) error {
	_, err := s.Ingest(ctx, task.DocumentID)
	if errors.Is(err, ErrDocumentNotFound) {
		// 文档在处理前已被删除，没有可重试的内容
		log.Warnf("[DocumentService] 入库任务对应的文档不存在, DocumentID: %d", task.DocumentID)
		return nil
	}
	return err
}

// AbandonTask 在重试用尽后删除文档。
func (s *documentService) AbandonTask(ctx context.Context, task tasks.DocumentProcessingTask, cause error) {
	log.Errorf("[DocumentService] 放弃入库任务, DocumentID: %d, Cause: %v", task.DocumentID, cause)
	doc, err := s.Get(task.DocumentID)
	if err != nil {
		return
	}
	err = s.ingestor.RemoveThen(context.WithoutCancel(ctx), doc.ID, func(ctx context.Context) error {
		s.discard(ctx, doc)
		return nil
	})
	if err != nil {
		log.Warnf("[DocumentService] 清理文档分块失败, DocumentID: %d, Error: %v", doc.ID, err)
		s.discard(ctx, doc)
	}
}

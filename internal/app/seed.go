package app

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docchat-go/internal/service"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/log"
)

// SeedResult 统计一次目录导入的结果。
type SeedResult struct {
	Imported  int
	Skipped   int
	Reindexed int
	Failed    int
}

// SeedDirectory 扫描目录下的文件并通过标准上传流程导入（幂等）。
// 内容 MD5 已存在的文件会被跳过，单个文件失败不影响其他文件。
func SeedDirectory(ctx context.Context, dir string, docs service.DocumentService) SeedResult {
	var res SeedResult
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("SeedDirectory: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return res
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		if !extractor.Supported(filepath.Ext(path)) {
			log.Infof("SeedDirectory: 不支持的文件类型，跳过: %s", path)
			res.Skipped++
			return nil
		}
		if info.Size() == 0 {
			log.Infof("SeedDirectory: 空文件跳过: %s", path)
			res.Skipped++
			return nil
		}

		fileMD5, err := fileChecksum(path)
		if err != nil {
			log.Warnf("SeedDirectory: 读取文件失败: %s, err=%v", path, err)
			res.Failed++
			return nil
		}

		// 幂等检查：相同内容已导入则跳过，但分块丢失时重新入库
		if existing, ferr := docs.FindByMD5(fileMD5); ferr == nil {
			rebuilt, err := docs.EnsureIndexed(ctx, existing.ID)
			switch {
			case err != nil:
				log.Warnf("SeedDirectory: 重建索引失败: %s, DocumentID=%d, err=%v", path, existing.ID, err)
				res.Failed++
			case rebuilt:
				log.Infof("SeedDirectory: 已存在但分块缺失，已重新入库: %s (DocumentID=%d)", info.Name(), existing.ID)
				res.Reindexed++
			default:
				log.Infof("SeedDirectory: 已存在，跳过: %s (md5=%s, DocumentID=%d)", info.Name(), fileMD5, existing.ID)
				res.Skipped++
			}
			return nil
		} else if !errors.Is(ferr, service.ErrDocumentNotFound) {
			log.Warnf("SeedDirectory: 查询文档失败: %s, err=%v", path, ferr)
			res.Failed++
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("SeedDirectory: 打开文件失败: %s, err=%v", path, err)
			res.Failed++
			return nil
		}
		defer f.Close()

		doc, err := docs.Upload(ctx, service.UploadRequest{
			Title:    strings.TrimSuffix(info.Name(), filepath.Ext(info.Name())),
			FileName: info.Name(),
			Content:  f,
			Size:     info.Size(),
		})
		if err != nil {
			log.Warnf("SeedDirectory: 导入失败: %s, err=%v", path, err)
			res.Failed++
			return nil
		}
		log.Infof("SeedDirectory: 导入完成: %s, DocumentID: %d", info.Name(), doc.ID)
		res.Imported++
		return nil
	})
	if walkErr != nil {
		log.Warnf("SeedDirectory: 遍历目录发生错误: %v", walkErr)
	}
	log.Infof("SeedDirectory: 导入 %d, 跳过 %d, 重建 %d, 失败 %d", res.Imported, res.Skipped, res.Reindexed, res.Failed)
	return res
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
)

// esChunk 是分块在 Elasticsearch 中的文档结构。
type esChunk struct {
	VectorID      string    `json:"vector_id"`
	DocumentID    uint      `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	ChunkIndex    int       `json:"chunk_index"`
	TextContent   string    `json:"text_content"`
	Vector        []float32 `json:"vector,omitempty"`
	ModelVersion  string    `json:"model_version"`
}

// ElasticsearchIndex 使用 dense_vector + knn 实现 Index。
type ElasticsearchIndex struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewElasticsearchIndex 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
func NewElasticsearchIndex(ctx context.Context, esCfg config.ElasticsearchConfig, dims int) (*ElasticsearchIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &ElasticsearchIndex{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := idx.createIndexIfNotExists(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *ElasticsearchIndex) createIndexIfNotExists(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.indexName}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[VectorStore] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 200 说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[VectorStore] 索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[VectorStore] 检查索引 '%s' 是否存在时收到意外的状态码: %d", s.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "long" },
				"document_title": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, s.dims)

	res, err = s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("[VectorStore] 创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorStore] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[VectorStore] 索引 '%s' 创建成功, dims=%d", s.indexName, s.dims)
	return nil
}

func (s *ElasticsearchIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Embedding) != s.dims {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, s.dims, len(e.Embedding))
	}
	docBytes, err := json.Marshal(esChunk{
		VectorID:      e.ID,
		DocumentID:    e.Metadata.DocumentID,
		DocumentTitle: e.Metadata.DocumentTitle,
		ChunkIndex:    e.Metadata.ChunkIndex,
		TextContent:   e.Text,
		Vector:        e.Embedding,
		ModelVersion:  e.ModelVersion,
	})
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.indexName,
		DocumentID: e.ID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[VectorStore] 索引分块到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index chunk %s", e.ID)
	}
	return nil
}

func (s *ElasticsearchIndex) Query(ctx context.Context, vector []float32, k int, modelVersion string) ([]Match, error) {
	var filter map[string]interface{}
	countBody := ""
	if modelVersion != "" {
		filter = map[string]interface{}{
			"term": map[string]interface{}{"model_version": modelVersion},
		}
		q, err := json.Marshal(map[string]interface{}{"query": filter})
		if err != nil {
			return nil, err
		}
		countBody = string(q)
	}
	count, err := s.count(ctx, countBody)
	if err != nil {
		return nil, err
	}
	k = clampK(k, count)
	if k == 0 {
		return []Match{}, nil
	}

	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if filter != nil {
		knn["filter"] = filter
	}
	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": k,
		"_source": map[string]interface{}{
			"excludes": []string{"vector"},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[VectorStore] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esChunk `json:"_source"`
				Score  float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]Match, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, Match{
			Text: hit.Source.TextContent,
			Metadata: Metadata{
				DocumentID:    hit.Source.DocumentID,
				DocumentTitle: hit.Source.DocumentTitle,
				ChunkIndex:    hit.Source.ChunkIndex,
			},
			// cosine 相似度下 ES 的 _score = (1 + cos) / 2
			Score: 2*hit.Score - 1,
		})
	}
	return matches, nil
}

func (s *ElasticsearchIndex) DeleteByDocument(ctx context.Context, documentID uint) error {
	body := fmt.Sprintf(`{"query":{"term":{"document_id":%d}}}`, documentID)
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		strings.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorStore] 删除文档 %d 的分块失败: %s", documentID, res.String())
		return fmt.Errorf("failed to delete chunks of document %d", documentID)
	}
	return nil
}

func (s *ElasticsearchIndex) Count(ctx context.Context) (int, error) {
	return s.count(ctx, "")
}

func (s *ElasticsearchIndex) CountByDocument(ctx context.Context, documentID uint) (int, error) {
	return s.count(ctx, fmt.Sprintf(`{"query":{"term":{"document_id":%d}}}`, documentID))
}

// count 调用 _count 接口，body 为空时统计整个索引。
func (s *ElasticsearchIndex) count(ctx context.Context, body string) (int, error) {
	opts := []func(*esapi.CountRequest){
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
	}
	if body != "" {
		opts = append(opts, s.client.Count.WithBody(strings.NewReader(body)))
	}
	res, err := s.client.Count(opts...)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count failed: %s", res.Status())
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode es count response: %w", err)
	}
	return out.Count, nil
}

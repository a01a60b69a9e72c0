// Package es 提供了与 Elasticsearch 交互的客户端功能，用于模板的语义检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"protoforge/internal/config"
	"protoforge/internal/model"
	"protoforge/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，并确保模板索引存在。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
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
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"template_id": { "type": "keyword" },
				"name": { "type": "text" },
				"description": { "type": "text" },
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
	}`, dims)

	created, err := ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// TemplateIndex 封装了模板索引的写入与混合检索。
type TemplateIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewTemplateIndex 创建一个新的 TemplateIndex。
func NewTemplateIndex(client *elasticsearch.Client, indexName string) *TemplateIndex {
	return &TemplateIndex{client: client, indexName: indexName}
}

// Index 将模板文档索引到 Elasticsearch，文档 ID 即模板 ID。
func (t *TemplateIndex) Index(ctx context.Context, doc model.TemplateDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      t.indexName,
		DocumentID: doc.TemplateID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, t.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[TemplateIndex] 索引模板到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index template")
	}
	return nil
}

// Delete 从索引中删除模板，文档不存在时不视为错误。
func (t *TemplateIndex) Delete(ctx context.Context, templateID string) error {
	req := esapi.DeleteRequest{
		Index:      t.indexName,
		DocumentID: templateID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, t.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete template %s: %s", templateID, res.String())
	}
	return nil
}

// Search 以向量 kNN 为主、查询文本 BM25 为辅执行混合检索，按相关度返回模板 ID。
func (t *TemplateIndex) Search(ctx context.Context, vector []float32, queryText string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 3
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildSearchQuery(vector, queryText, topK)); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := t.client.Search(
		t.client.Search.WithContext(ctx),
		t.client.Search.WithIndex(t.indexName),
		t.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[TemplateIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Source model.TemplateDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	ids := make([]string, 0, len(esResponse.Hits.Hits))
	seen := make(map[string]struct{}, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		id := hit.Source.TemplateID
		if id == "" {
			id = hit.ID
		}
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// buildSearchQuery 构建 kNN + BM25 的混合查询；查询文本为空时只做 kNN。
func buildSearchQuery(vector []float32, queryText string, topK int) map[string]interface{} {
	candidates := topK * 10
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": candidates,
			"boost":          0.8,
		},
		"size":    topK,
		"_source": []string{"template_id", "name"},
	}
	if strings.TrimSpace(queryText) != "" {
		query["query"] = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  queryText,
				"fields": []string{"name^2", "description^1.5", "text_content"},
				"boost":  0.2,
			},
		}
	}
	return query
}

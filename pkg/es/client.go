// Package es 提供了与 Elasticsearch 交互的客户端功能。
// 这里的索引是文件知识的只读镜像，数据以 PostgreSQL 为准。
package es

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"codelens-go/internal/config"
	"codelens-go/internal/model"
	"codelens-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Mirror 把文件知识镜像到 Elasticsearch 索引。
type Mirror struct {
	client    *elasticsearch.Client
	indexName string
}

// NewMirror 初始化 Elasticsearch 客户端，并在索引不存在时按给定向量维度创建索引。
func NewMirror(esCfg config.ElasticsearchConfig, dims int) (*Mirror, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}
	m := &Mirror{client: client, indexName: esCfg.IndexName}
	if err := m.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return m, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (m *Mirror) createIndexIfNotExists(dims int) error {
	res, err := m.client.Indices.Exists([]string{m.indexName})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[ESMirror] 索引 '%s' 已存在", m.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"project_id": { "type": "keyword" },
				"file_name": { "type": "keyword" },
				"summary": { "type": "text" },
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

	res, err = m.client.Indices.Create(
		m.indexName,
		m.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", m.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", m.indexName, res.String())
	}

	log.Infof("[ESMirror] 索引 '%s' 创建成功", m.indexName)
	return nil
}

// DocumentID 返回文件在镜像索引中的稳定 ID，重复写入会覆盖同一文档。
func DocumentID(projectID, fileName string) string {
	sum := sha1.Sum([]byte(fileName))
	return projectID + "-" + hex.EncodeToString(sum[:])
}

// IndexKnowledge 写入或覆盖一个文件知识文档。
func (m *Mirror) IndexKnowledge(ctx context.Context, doc model.KnowledgeDocument) error {
	if doc.DocID == "" {
		doc.DocID = DocumentID(doc.ProjectID, doc.FileName)
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      m.indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
	}
	return nil
}

// DeleteProject 删除项目在镜像索引中的全部文档。
func (m *Mirror) DeleteProject(ctx context.Context, projectID string) error {
	query, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"project_id": projectID},
		},
	})
	if err != nil {
		return err
	}

	req := esapi.DeleteByQueryRequest{
		Index: []string{m.indexName},
		Body:  bytes.NewReader(query),
	}
	res, err := req.Do(ctx, m.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("从 Elasticsearch 删除项目文档出错: %s", res.String())
	}
	return nil
}

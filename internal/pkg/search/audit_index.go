// Package search 把审计日志写入 Elasticsearch，便于按条件检索
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AuditIndexer 审计日志索引
type AuditIndexer interface {
	Index(ctx context.Context, entry *models.AuditLog) error
}

type esAuditIndexer struct {
	client *elasticsearch.Client
	index  string
}

// NewAuditIndexer client 为 nil 时返回 nil，调用方据此跳过索引
func NewAuditIndexer(client *elasticsearch.Client, index string) AuditIndexer {
	if client == nil || index == "" {
		return nil
	}
	return &esAuditIndexer{client: client, index: index}
}

// Index 以 EventID 作为文档 ID，重复投递只会覆盖同一文档
func (i *esAuditIndexer) Index(ctx context.Context, entry *models.AuditLog) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: entry.EventID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index audit log: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index audit log: %s: %s", res.Status(), msg)
	}
	return nil
}

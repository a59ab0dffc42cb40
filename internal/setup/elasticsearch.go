package setup

import (
	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// InitElasticsearchClient 审计日志索引使用，未启用时返回 nil
func InitElasticsearchClient(cfg *config.ElasticsearchConfig) *elasticsearch.Client {
	if !cfg.Enabled {
		return nil
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create Elasticsearch client", zap.Error(err))
	}

	// 尝试连接并获取集群信息，验证连接是否成功
	res, err := client.Info()
	if err != nil {
		logger.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Fatal("Error connecting to Elasticsearch", zap.String("status", res.Status()))
	}

	logger.Info("Elasticsearch client initialized successfully.", zap.Strings("addresses", cfg.Addresses))
	return client
}

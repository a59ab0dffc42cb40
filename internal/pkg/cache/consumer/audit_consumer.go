package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/search"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AuditConsumer 从 Redis Stream 读取审计事件，落库后写入搜索索引
type AuditConsumer struct {
	client  *redis.Client
	cfg     *config.AuditConfig
	repo    repositories.AuditRepository
	indexer search.AuditIndexer // 可以为 nil
}

func NewAuditConsumer(client *redis.Client, cfg *config.AuditConfig, repo repositories.AuditRepository, indexer search.AuditIndexer) *AuditConsumer {
	return &AuditConsumer{client: client, cfg: cfg, repo: repo, indexer: indexer}
}

// Run 阻塞运行直到 ctx 取消
func (c *AuditConsumer) Run(ctx context.Context) {
	// 创建消费者组
	// "0" 表示从 Stream 的开头读取所有消息。
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.StreamName, c.cfg.GroupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		logger.Error("AuditConsumer: failed to create consumer group", zap.Error(err))
	}

	// 先处理上次未确认的消息，再读新消息
	c.drain(ctx, "0")
	for {
		select {
		case <-ctx.Done():
			logger.Info("AuditConsumer: stopped")
			return
		default:
			c.drain(ctx, ">")
		}
	}
}

func (c *AuditConsumer) drain(ctx context.Context, start string) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.GroupName,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.StreamName, start},
		Count:    50,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		logger.Error("AuditConsumer: Failed to read from Redis Streams", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.process(ctx, message); err != nil {
				logger.Error("AuditConsumer: Failed to process message",
					zap.String("messageID", message.ID), zap.Error(err))
				// 处理失败不发送 XACK，消息留在 pending list 等待重试
				continue
			}
			if err := c.client.XAck(ctx, c.cfg.StreamName, c.cfg.GroupName, message.ID).Err(); err != nil {
				logger.Warn("AuditConsumer: XAck failed", zap.String("messageID", message.ID), zap.Error(err))
			}
		}
	}
}

func (c *AuditConsumer) process(ctx context.Context, message redis.XMessage) error {
	entry, err := decodeAuditMessage(message)
	if err != nil {
		// 无法解析的消息重试也不会成功，记录后直接确认
		logger.Error("AuditConsumer: discarding malformed message", zap.String("messageID", message.ID), zap.Error(err))
		return nil
	}
	return persistAndIndex(ctx, c.repo, c.indexer, entry)
}

func decodeAuditMessage(message redis.XMessage) (*models.AuditLog, error) {
	raw, ok := message.Values["payload"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message payload format")
	}
	var entry models.AuditLog
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if entry.EventID == "" {
		return nil, fmt.Errorf("message without event id")
	}
	return &entry, nil
}

// persistAndIndex 数据库是审计记录的权威来源，索引失败只记录日志
func persistAndIndex(ctx context.Context, repo repositories.AuditRepository, indexer search.AuditIndexer, entry *models.AuditLog) error {
	entry.ID = 0
	if err := repo.Append(ctx, entry); err != nil {
		return err
	}
	if indexer != nil {
		if err := indexer.Index(ctx, entry); err != nil {
			logger.Warn("AuditConsumer: failed to index audit log", zap.String("eventID", entry.EventID), zap.Error(err))
		}
	}
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mq"
	"github.com/3Eeeecho/go-filevault/internal/services/explorer"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	purgeTimeout = time.Minute
	// maxPurgeAttempts 超过次数的任务转入死信队列，不再重试
	maxPurgeAttempts = 5
)

// Acknowledger 对应 amqp.Delivery 的确认操作
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// DeleteWorker 消费文件删除队列，清理对象存储与数据库记录
type DeleteWorker struct {
	mqClient  *mq.RabbitMQClient
	publisher mq.Publisher // 重试和死信都通过重新发布实现
	purger    *explorer.Purger
}

func NewDeleteWorker(mqClient *mq.RabbitMQClient, purger *explorer.Purger) *DeleteWorker {
	w := &DeleteWorker{mqClient: mqClient, purger: purger}
	if mqClient != nil {
		w.publisher = mqClient
	}
	return w
}

func (w *DeleteWorker) Start() error {
	if _, err := w.mqClient.DeclareQueue(mq.FileDeleteQueue); err != nil {
		return fmt.Errorf("declare queue %s: %w", mq.FileDeleteQueue, err)
	}
	if _, err := w.mqClient.DeclareQueue(mq.FileDeleteDeadQueue); err != nil {
		return fmt.Errorf("declare queue %s: %w", mq.FileDeleteDeadQueue, err)
	}
	if err := w.mqClient.Consume(mq.FileDeleteQueue, 8, w.HandleDelivery); err != nil {
		return fmt.Errorf("consume queue %s: %w", mq.FileDeleteQueue, err)
	}
	logger.Info("Delete worker started...")
	return nil
}

func (w *DeleteWorker) HandleDelivery(msg amqp.Delivery) {
	w.Handle(msg.Body, &msg)
}

// Handle 处理一条删除消息：解析失败直接丢弃，清理失败带着计数重新发布，
// 达到上限后转入死信队列
func (w *DeleteWorker) Handle(body []byte, ack Acknowledger) {
	var task models.DeleteFileTask
	if err := json.Unmarshal(body, &task); err != nil || task.FileID == 0 {
		logger.Error("Failed to unmarshal delete task", zap.ByteString("body", body), zap.Error(err))
		_ = ack.Nack(false, false) // 解析失败,直接抛弃
		return
	}

	logger.Info("Received file deletion task", zap.Uint64("FileID", task.FileID))

	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	if err := w.purger.Purge(ctx, task); err != nil {
		logger.Error("Failed to purge file", zap.Uint64("FileID", task.FileID),
			zap.Int("attempts", task.Attempts+1), zap.Error(err))
		w.retry(task, ack)
		return
	}

	logger.Info("Successfully processed file deletion task", zap.Uint64("FileID", task.FileID))
	_ = ack.Ack(false)
}

func (w *DeleteWorker) retry(task models.DeleteFileTask, ack Acknowledger) {
	task.Attempts++
	queue := mq.FileDeleteQueue
	if task.Attempts >= maxPurgeAttempts {
		queue = mq.FileDeleteDeadQueue
	}

	body, err := json.Marshal(task)
	if err != nil || w.publisher == nil {
		_ = ack.Nack(false, true)
		return
	}
	if err := w.publisher.Publish(queue, body); err != nil {
		logger.Error("Failed to republish delete task", zap.Uint64("FileID", task.FileID),
			zap.String("queue", queue), zap.Error(err))
		_ = ack.Nack(false, true) // 发布失败时保留原消息
		return
	}
	if queue == mq.FileDeleteDeadQueue {
		logger.Error("Delete task moved to dead letter queue", zap.Uint64("FileID", task.FileID),
			zap.Int("attempts", task.Attempts))
	}
	_ = ack.Ack(false)
}

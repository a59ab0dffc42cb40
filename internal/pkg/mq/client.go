package mq

import (
	"fmt"
	"sync"

	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// 队列名
const (
	FileDeleteQueue = "file_delete_queue"
	// FileDeleteDeadQueue 多次清理失败的删除任务，留给人工排查
	FileDeleteDeadQueue = "file_delete_dead_queue"
)

// Publisher 发布消息到指定队列，服务层只依赖这个接口
type Publisher interface {
	Publish(queueName string, body []byte) error
}

// RabbitMQClient 封装了 RabbitMQ 的连接和通道
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp.Channel 不能被多个 goroutine 同时发布
}

var _ Publisher = (*RabbitMQClient)(nil)

// NewRabbitMQClient 创建一个新的 RabbitMQ 客户端实例
func NewRabbitMQClient(amqpURL string) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: ch,
	}, nil
}

// DeclareQueue 声明一个持久化队列
func (c *RabbitMQClient) DeclareQueue(queueName string) (amqp.Queue, error) {
	return c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
}

// Publish 发布一条持久化消息到指定队列
func (c *RabbitMQClient) Publish(queueName string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Consume 注册消费者，handler 负责 Ack/Nack。通道关闭时 goroutine 退出
func (c *RabbitMQClient) Consume(queueName string, prefetch int, handler func(msg amqp.Delivery)) error {
	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	msgs, err := c.channel.Consume(
		queueName,
		"",    // consumer
		false, // auto-ack (we will manually ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			handler(msg)
		}
		logger.Info("RabbitMQ 消费通道已关闭", zap.String("queue", queueName))
	}()

	logger.Info("等待队列消息", zap.String("queue", queueName))
	return nil
}

// Close the channel and connection
func (c *RabbitMQClient) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

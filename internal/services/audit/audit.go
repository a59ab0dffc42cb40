// Package audit 审计事件的记录与查询。
// 记录走异步管道：内存队列 → Redis Stream → 消费者落库并建索引，
// Stream 不可用时直接写数据库，最终失败计入指标并打错误日志。
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event 一次需要审计的操作
type Event struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	FileID       uint64 // 0 表示与文件无关
	Outcome      string
	Reason       string
	Context      map[string]any
}

// Recorder 业务层只依赖这个接口，Record 不阻塞也不返回错误
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type requestMetaKey struct{}

// RequestMeta 请求来源信息，会合并进审计事件的 Context
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta 把请求来源写入 context，供 Record 读取
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// Sink 异步审计管道
type Sink struct {
	cfg     *config.AuditConfig
	cache   cache.Cache // 为 nil 或未启用 Stream 时直接写数据库
	repo    repositories.AuditRepository
	metrics *metrics.Metrics
	now     func() time.Time

	queue    chan *models.AuditLog
	overflow chan *models.AuditLog // 主队列满时交给独立协程直接落库
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

var _ Recorder = (*Sink)(nil)

var errAuditBackpressure = errors.New("audit queue and overflow queue are both full")

func NewSink(cfg *config.AuditConfig, c cache.Cache, repo repositories.AuditRepository, m *metrics.Metrics) *Sink {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	return &Sink{
		cfg:     cfg,
		cache:   c,
		repo:    repo,
		metrics: m,
		now:     time.Now,
		queue:    make(chan *models.AuditLog, size),
		overflow: make(chan *models.AuditLog, size),
	}
}

// Start 启动后台写入协程，主队列走 Stream，溢出队列直接写数据库
func (s *Sink) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for entry := range s.queue {
			s.deliver(entry)
		}
	}()
	go func() {
		defer s.wg.Done()
		for entry := range s.overflow {
			s.persist(entry)
		}
	}()
}

// Close 停止接收新事件，并等待队列中的事件写完
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
		close(s.overflow)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Record 只做非阻塞入队，不会在请求协程里等待存储
func (s *Sink) Record(ctx context.Context, event Event) {
	entry := s.build(ctx, event)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		// 关闭之后只剩停机路径，同步落库
		s.metrics.RecordAuditFallback()
		s.persist(entry)
		return
	}
	select {
	case s.queue <- entry:
		s.mu.RUnlock()
		return
	default:
	}
	select {
	case s.overflow <- entry:
		s.mu.RUnlock()
		s.metrics.RecordAuditFallback()
		logger.Warn("Audit: queue full, handing event to database writer", zap.String("action", entry.Action))
	default:
		s.mu.RUnlock()
		s.drop(entry, errAuditBackpressure)
	}
}

func (s *Sink) build(ctx context.Context, event Event) *models.AuditLog {
	fields := make(map[string]any, len(event.Context)+2)
	for k, v := range event.Context {
		fields[k] = v
	}
	if meta, ok := requestMetaFrom(ctx); ok {
		if meta.IP != "" {
			fields["ip"] = meta.IP
		}
		if meta.UserAgent != "" {
			fields["user_agent"] = meta.UserAgent
		}
	}

	var encoded string
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			encoded = string(b)
		} else {
			logger.Warn("Audit: failed to encode context", zap.Error(err))
		}
	}

	actor := event.Actor
	if actor == "" {
		actor = "anonymous"
	}
	var fileID *uint64
	if event.FileID != 0 {
		id := event.FileID
		fileID = &id
	}
	return &models.AuditLog{
		EventID:      uuid.NewString(),
		Actor:        actor,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		FileID:       fileID,
		Outcome:      event.Outcome,
		Reason:       event.Reason,
		Context:      encoded,
		Timestamp:    s.now().UTC(),
	}
}

func (s *Sink) deliver(entry *models.AuditLog) {
	if s.cfg.StreamEnabled && s.cache != nil {
		err := s.publish(entry)
		if err == nil {
			return
		}
		s.metrics.RecordAuditFallback()
		logger.Warn("Audit: stream publish failed, falling back to database",
			zap.String("eventID", entry.EventID), zap.Error(err))
	}
	s.persist(entry)
}

func (s *Sink) publish(entry *models.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout())
	defer cancel()
	_, err = s.cache.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.StreamName,
		Values: map[string]any{"payload": string(payload)},
	})
	return err
}

func (s *Sink) persist(entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout())
	defer cancel()
	if err := s.repo.Append(ctx, entry); err != nil {
		s.drop(entry, err)
	}
}

// drop 事件最终丢失：计入指标，并把完整事件写进错误日志
func (s *Sink) drop(entry *models.AuditLog, err error) {
	s.metrics.RecordAuditDropped(entry.Action)
	logger.Error("Audit: event lost",
		zap.String("eventID", entry.EventID),
		zap.String("action", entry.Action),
		zap.String("actor", entry.Actor),
		zap.String("resourceID", entry.ResourceID),
		zap.String("outcome", entry.Outcome),
		zap.String("reason", entry.Reason),
		zap.Error(err))
}

func (s *Sink) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 3 * time.Second
}

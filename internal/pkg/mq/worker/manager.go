package worker

import (
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mq"
	"github.com/3Eeeecho/go-filevault/internal/services/explorer"
)

// StartAllWorkers 启动应用中所有定义的后台 Worker
func StartAllWorkers(mqClient *mq.RabbitMQClient, purger *explorer.Purger) error {
	// --- 启动文件删除 Worker ---
	deleteWorker := NewDeleteWorker(mqClient, purger)
	if err := deleteWorker.Start(); err != nil {
		return err
	}

	logger.Info("所有后台工作进程已启动。")
	return nil
}

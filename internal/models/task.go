package models

// DeleteFileTask 文件删除消息，由文件服务发布，删除 worker 消费
type DeleteFileTask struct {
	FileID    uint64 `json:"file_id"`
	UserID    uint64 `json:"user_id"`
	OssBucket string `json:"oss_bucket"`
	OssKey    string `json:"oss_key"`
	Attempts  int    `json:"attempts,omitempty"` // 已失败的清理次数，由删除 worker 维护
}

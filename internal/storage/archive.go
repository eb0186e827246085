// Package storage 把已终结的请求归档到 sqlite，供事后查阅。
package storage

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	ilog "cdpdriver/internal/logger"
	"cdpdriver/internal/storage/model"
	"cdpdriver/pkg/domain"
)

// Archive 请求归档
type Archive struct {
	db  *gorm.DB
	log ilog.Logger
}

// Open 打开（必要时创建）归档数据库并迁移表结构
func Open(dsn, prefix string, l ilog.Logger) (*Archive, error) {
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&model.RequestRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db, log: l}, nil
}

// terminalEvents 会写入归档的事件类型
var terminalEvents = map[domain.InterceptEventType]string{
	domain.EventRequestContinued: "continued",
	domain.EventRequestAborted:   "aborted",
	domain.EventRequestFulfilled: "responded",
	domain.EventRequestFailed:    "failed",
}

// Record 将单个终结事件写入归档；非终结事件直接忽略
func (a *Archive) Record(evt domain.InterceptEvent) error {
	outcome, ok := terminalEvents[evt.Type]
	if !ok {
		return nil
	}
	rec := model.RequestRecord{
		RequestID:    string(evt.Request),
		Session:      string(evt.Session),
		FrameID:      string(evt.Frame),
		URL:          evt.URL,
		Method:       evt.Method,
		ResourceType: string(evt.ResourceType),
		Outcome:      outcome,
		StatusCode:   evt.StatusCode,
		ErrorCode:    evt.ErrorCode,
		Timestamp:    evt.Timestamp,
	}
	if err := a.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("archive request %s: %w", evt.Request, err)
	}
	return nil
}

// Consume 持续消费事件流写入归档，直到通道关闭或上下文取消
func (a *Archive) Consume(ctx context.Context, events <-chan domain.InterceptEvent) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := a.Record(evt); err != nil {
				a.log.Err(err, "归档写入失败", "request", string(evt.Request))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Recent 返回最近的归档记录
func (a *Archive) Recent(limit int) ([]model.RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.RequestRecord
	if err := a.db.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	return out, nil
}

// Close 关闭底层数据库连接
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

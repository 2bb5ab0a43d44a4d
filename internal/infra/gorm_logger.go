package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/config"
	"ragchat/internal/logger"
	"ragchat/internal/metrics"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// ParseLogLevel 解析 database.log_level，空值按 warn 处理
func ParseLogLevel(level string) gormLogger.LogLevel {
	switch level {
	case "silent":
		return gormLogger.Silent
	case "error":
		return gormLogger.Error
	case "info":
		return gormLogger.Info
	default:
		return gormLogger.Warn
	}
}

// SQLLogger 把 GORM 日志写入 zap，并记录 SQL 耗时指标
// 每条日志带上请求的 trace_id 与 session_id
type SQLLogger struct {
	log           *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewSQLLogger 按数据库配置创建 SQL 日志适配器
func NewSQLLogger(base *zap.Logger, cfg *config.DatabaseConfig) *SQLLogger {
	return &SQLLogger{
		log:           base,
		level:         ParseLogLevel(cfg.LogLevel),
		slowThreshold: time.Duration(cfg.SlowThresholdMs) * time.Millisecond,
	}
}

// LogMode 返回指定级别的副本
func (l *SQLLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) with(ctx context.Context) *zap.Logger {
	return l.log.With(logger.ContextFields(ctx)...)
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.with(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.with(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.with(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录每条 SQL：失败为 ERROR，超过阈值为 WARN，其余在 info 级别下以 DEBUG 输出
// 查询无记录不视为错误
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	failed := err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound)
	status := "success"
	if failed {
		status = "failed"
	}
	metrics.DBQueryDuration.WithLabelValues(sqlOperation(sql), status).Observe(elapsed.Seconds())

	if l.level <= gormLogger.Silent {
		return
	}

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}

	switch {
	case failed && l.level >= gormLogger.Error:
		l.with(ctx).Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormLogger.Warn:
		l.with(ctx).Warn("SQL 慢查询", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level >= gormLogger.Info:
		l.with(ctx).Debug("SQL 执行", fields...)
	}
}

// sqlOperation 语句首个关键字，小写
func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

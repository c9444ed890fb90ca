package exporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/yuque_exporter/internal/logctx"
)

// Kind classifies a status message.
type Kind string

const (
	KindProgress Kind = "progress"
	KindSuccess  Kind = "success"
	KindError    Kind = "error"
	KindBusy     Kind = "busy"
)

// Status is a user-facing progress message.
type Status struct {
	RunID   string
	State   State
	Kind    Kind
	Message string
}

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s.Kind == KindSuccess || s.Kind == KindError
}

// StatusSink receives status messages. Implementations must not block for long.
type StatusSink interface {
	Status(ctx context.Context, s Status)
}

// SinkFunc adapts a function to StatusSink.
type SinkFunc func(ctx context.Context, s Status)

func (f SinkFunc) Status(ctx context.Context, s Status) { f(ctx, s) }

// LogSink writes statuses to the context logger.
type LogSink struct{}

func (LogSink) Status(ctx context.Context, s Status) {
	logger := logctx.LoggerFromContext(ctx)

	args := []any{"run_id", s.RunID, "state", s.State, "kind", s.Kind}

	switch s.Kind {
	case KindError:
		logger.ErrorContext(ctx, s.Message, args...)
	case KindBusy:
		logger.WarnContext(ctx, s.Message, args...)
	default:
		logger.InfoContext(ctx, s.Message, args...)
	}
}

// MultiSink fans a status out to every sink.
type MultiSink []StatusSink

func (m MultiSink) Status(ctx context.Context, s Status) {
	for _, sink := range m {
		sink.Status(ctx, s)
	}
}

// User-facing messages.
const (
	msgBusy           = "导出进行中，请稍候..."
	msgOpenMenu       = "正在打开导出菜单..."
	msgSelectMarkdown = "正在选择Markdown导出..."
	msgGenerating     = "正在生成导出文件..."
	msgReading        = "正在读取下载的文件..."
	msgSaving         = "正在保存Markdown..."
)

func msgDownloadingVideos(n int) string {
	return fmt.Sprintf("正在下载 %d 个视频...", n)
}

func msgDownloadingVideo(i, n int) string {
	return fmt.Sprintf("正在下载视频 %d/%d...", i, n)
}

func msgDone(filename string) string {
	return "导出完成！已保存到Obsidian仓库: " + filename
}

// msgFailed shows the failing step's own error; the stage name stays in logs and history.
func msgFailed(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		err = stageErr.Err
	}

	return "导出失败: " + err.Error()
}

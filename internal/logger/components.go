package logger

import "go.uber.org/zap/zapcore"

const (
	componentTelegram = "telegram"
	componentLLM      = "llm"
	componentTool     = "tool"
	componentRAG      = "rag"
)

// TelegramDebug logs a debug message for the Telegram adapter.
func TelegramDebug(format string, v ...interface{}) {
	logf(zapcore.DebugLevel, componentTelegram, format, v...)
}

// TelegramInfo logs an info message for the Telegram adapter.
func TelegramInfo(format string, v ...interface{}) {
	logf(zapcore.InfoLevel, componentTelegram, format, v...)
}

// TelegramWarn logs a warning for the Telegram adapter.
func TelegramWarn(format string, v ...interface{}) {
	logf(zapcore.WarnLevel, componentTelegram, format, v...)
}

// TelegramError logs an error for the Telegram adapter.
func TelegramError(format string, v ...interface{}) {
	logf(zapcore.ErrorLevel, componentTelegram, format, v...)
}

func LLMDebug(format string, v ...interface{}) { logf(zapcore.DebugLevel, componentLLM, format, v...) }
func LLMInfo(format string, v ...interface{})  { logf(zapcore.InfoLevel, componentLLM, format, v...) }
func LLMWarn(format string, v ...interface{})  { logf(zapcore.WarnLevel, componentLLM, format, v...) }
func LLMError(format string, v ...interface{}) { logf(zapcore.ErrorLevel, componentLLM, format, v...) }

func ToolDebug(format string, v ...interface{}) { logf(zapcore.DebugLevel, componentTool, format, v...) }
func ToolInfo(format string, v ...interface{})  { logf(zapcore.InfoLevel, componentTool, format, v...) }
func ToolWarn(format string, v ...interface{})  { logf(zapcore.WarnLevel, componentTool, format, v...) }
func ToolError(format string, v ...interface{}) { logf(zapcore.ErrorLevel, componentTool, format, v...) }

// RAG* log ingestion and retrieval events.
func RAGDebug(format string, v ...interface{}) { logf(zapcore.DebugLevel, componentRAG, format, v...) }
func RAGInfo(format string, v ...interface{})  { logf(zapcore.InfoLevel, componentRAG, format, v...) }
func RAGWarn(format string, v ...interface{})  { logf(zapcore.WarnLevel, componentRAG, format, v...) }
func RAGError(format string, v ...interface{}) { logf(zapcore.ErrorLevel, componentRAG, format, v...) }

package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 设置全局 logger：dev 环境输出彩色控制台格式，其余环境输出 JSON。
// level 为空或无法解析时，dev 使用 debug，其余使用 info。
func Init(env, level string) {
	log.Logger = New(os.Stdout, env, level)
	zerolog.SetGlobalLevel(log.Logger.GetLevel())
}

func New(out io.Writer, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if level == "" || err != nil {
		lvl = zerolog.InfoLevel
		if env == "dev" {
			lvl = zerolog.DebugLevel
		}
	}
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "chatrelay").Logger()
}

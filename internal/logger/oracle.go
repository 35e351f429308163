package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"marlin/internal/pkg/jsonutil"
)

// 独立的 oracle 流水日志：完整记录每次请求/响应，便于复盘 AI 决策。
// 与主日志分离，避免大段 prompt 污染运行日志。

var (
	oracleMu      sync.Mutex
	oracleLog     *log.Logger
	oracleDumpRaw bool
)

func SetOracleWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

func EnableOracleDump(enabled bool) {
	oracleMu.Lock()
	oracleDumpRaw = enabled
	oracleMu.Unlock()
}

type oracleSection struct {
	Title string
	Body  string
}

func logOracle(kind, purpose string, sections []oracleSection) {
	oracleMu.Lock()
	sink := oracleLog
	oracleMu.Unlock()
	if sink == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if purpose != "" {
		b.WriteString("[")
		b.WriteString(purpose)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	sink.Print(b.String())
}

func LogOracleRequest(purpose, prompt string) {
	logOracle("request", purpose, []oracleSection{{Title: "PROMPT", Body: prompt}})
}

func LogOracleResponse(purpose, raw string) {
	oracleMu.Lock()
	dump := oracleDumpRaw
	oracleMu.Unlock()
	if dump {
		raw = jsonutil.Pretty(raw)
	} else {
		raw = truncateForLog(raw, 4096)
	}
	logOracle("response", purpose, []oracleSection{{Title: "RAW", Body: raw}})
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

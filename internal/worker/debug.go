package worker

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("GEMCHAT_WORKER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled {
		log.Debugf(format, args...)
	}
}

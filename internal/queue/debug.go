package queue

import (
	"log"
	"os"
	"strings"
)

var queueDebugEnabled = strings.EqualFold(os.Getenv("VOICEDESK_QUEUE_DEBUG"), "1")

func debugf(format string, args ...interface{}) {
	if queueDebugEnabled {
		log.Printf("[queue] "+format, args...)
	}
}

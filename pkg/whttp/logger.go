package whttp

import (
	"fmt"
	"strings"
)

// leveledLogger feeds retryablehttp's key/value log calls into a printf
// style Logger. Its per-attempt chatter goes to debug.
type leveledLogger struct {
	log Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Errorf("%s%s", msg, pairs(kv)) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debugf("%s%s", msg, pairs(kv)) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debugf("%s%s", msg, pairs(kv)) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warnf("%s%s", msg, pairs(kv)) }

func pairs(kv []interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v", kv[i])
		}
	}
	return b.String()
}

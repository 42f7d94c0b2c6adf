// Package obslog provides the module's logging and crash-capture
// conventions: a shared logrus configuration and a panic-safe goroutine
// launcher modeled on the teacher's safeGo/writeCrashLog pair.
package obslog

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	base     *logrus.Logger
	baseOnce sync.Once
)

// Base returns the process-wide logrus.Logger, constructed once with
// the module's standard formatter and level.
func Base() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(logrus.InfoLevel)
		if os.Getenv("MCAPVIZ_DEBUG") != "" {
			base.SetLevel(logrus.DebugLevel)
		}
	})
	return base
}

// For returns a *logrus.Entry scoped to component, the convention every
// package in this module uses to identify its log lines.
func For(component string) *logrus.Entry {
	return Base().WithField("component", component)
}

// CrashLogPath is where SafeGo writes a full crash report on panic,
// mirroring the teacher's hardcoded /tmp/docker-tui-crash.log path but
// namespaced to this module.
const CrashLogPath = "/tmp/mcapviz-crash.log"

// SafeGo launches fn in a new goroutine with panic recovery. A panic is
// logged through entry and appended to CrashLogPath with a full
// goroutine dump; it never brings down the process.
func SafeGo(entry *logrus.Entry, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				writeCrashLog(r, name)
				entry.WithField("goroutine", name).Errorf("recovered panic: %v", r)
			}
		}()
		fn()
	}()
}

func writeCrashLog(r interface{}, goroutineName string) {
	f, err := os.OpenFile(CrashLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		f = os.Stderr
	} else {
		defer f.Close()
	}

	fmt.Fprintf(f, "\n--- crash report %s ---\n", time.Now().Format(time.RFC3339Nano))
	fmt.Fprintf(f, "goroutine: %s\n", goroutineName)
	fmt.Fprintf(f, "error: %v\n\n", r)
	f.Write(debug.Stack())

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(f, "\nall goroutines:\n")
	f.Write(buf[:n])
}

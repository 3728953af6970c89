// Package log2 is the leveled logger shared by agent and tools.
//
// Level may be changed while goroutines are logging.
// Nil *Log is valid and discards everything, tests pass nil where output is noise.
// Error lines can be mirrored into an ErrorFunc, agent counts them in metrics.
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	// journald adds its own timestamp
	LServiceFlags int = Lshortfile
	LTestFlags    int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

type ErrorFunc func(error)

type Log struct {
	l      *log.Logger
	level  Level
	w      io.Writer
	fatal  func(args ...interface{})
	errfun atomic.Value // ErrorFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == ioutil.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

// testWriter routes output through t.Log so parallel tests keep their lines apart.
type testWriter struct{ t testing.TB }

func (self testWriter) Write(b []byte) (int, error) {
	self.t.Helper()
	self.t.Log(string(b))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	self := NewWriter(testWriter{t}, level)
	self.fatal = t.Fatal
	self.SetFlags(LTestFlags)
	return self
}

func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	l := NewWriter(self.w, level)
	l.SetFlags(self.l.Flags())
	l.fatal = self.fatal
	if f, ok := self.errfun.Load().(ErrorFunc); ok {
		l.errfun.Store(f)
	}
	return l
}

func (self *Log) SetLevel(l Level) {
	if self == nil {
		return
	}
	atomic.StoreInt32((*int32)(&self.level), int32(l))
}

func (self *Log) SetFlags(f int) {
	if self == nil {
		return
	}
	self.l.SetFlags(f)
}

// SetErrorFunc installs extra consumer of Error/Errorf.
// It is called regardless of level.
func (self *Log) SetErrorFunc(f ErrorFunc) {
	if self == nil {
		return
	}
	self.errfun.Store(f)
}

func (self *Log) Enabled(level Level) bool {
	if self == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&self.level)) >= int32(level)
}

// output depth: caller -> Info -> output -> Logger.Output
func (self *Log) output(level Level, s string) {
	if self.Enabled(level) {
		_ = self.l.Output(3, s)
	}
}

func (self *Log) Error(args ...interface{}) {
	self.output(LError, "error: "+fmt.Sprint(args...))
	self.reportError(args...)
}
func (self *Log) Errorf(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	self.output(LError, "error: "+err.Error())
	self.reportError(err)
}
func (self *Log) Info(args ...interface{}) { self.output(LInfo, fmt.Sprint(args...)) }
func (self *Log) Infof(format string, args ...interface{}) {
	self.output(LInfo, fmt.Sprintf(format, args...))
}
func (self *Log) Debug(args ...interface{}) { self.output(LDebug, "debug: "+fmt.Sprint(args...)) }
func (self *Log) Debugf(format string, args ...interface{}) {
	self.output(LDebug, "debug: "+fmt.Sprintf(format, args...))
}

// Println and Printf satisfy paho mqtt.Logger.
// Broker client chatter goes at debug level.
func (self *Log) Println(args ...interface{}) { self.output(LDebug, "mqtt: "+fmt.Sprint(args...)) }
func (self *Log) Printf(format string, args ...interface{}) {
	self.output(LDebug, "mqtt: "+fmt.Sprintf(format, args...))
}

// Fatal flushes and exits. Test logger fails the test instead.
func (self *Log) Fatal(args ...interface{}) {
	s := fmt.Sprint(args...)
	if self != nil && self.fatal != nil {
		self.fatal(s)
		return
	}
	if self == nil {
		self = NewStderr(LError)
	}
	self.output(LError, "fatal: "+s)
	self.Flush()
	os.Exit(1)
}

type syncer interface{ Sync() error }
type flusher interface{ Flush() error }

// Flush pushes buffered output to storage, last lines before restart must survive.
func (self *Log) Flush() {
	if self == nil {
		return
	}
	switch w := self.w.(type) {
	case flusher:
		_ = w.Flush()
	case syncer:
		_ = w.Sync()
	}
}

func (self *Log) reportError(args ...interface{}) {
	if self == nil {
		return
	}
	f, _ := self.errfun.Load().(ErrorFunc)
	if f == nil {
		return
	}
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			f(e)
			return
		}
	}
	f(fmt.Errorf("%s", fmt.Sprint(args...)))
}

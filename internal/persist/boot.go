package persist

import (
	"encoding"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/log2"
)

const (
	bootTag       = "boot"
	bootFrameSize = 256
	// keeps encoded record within bootFrameSize
	maxFatalLen   = 160
)

// Boot counts agent starts and remembers why previous run was restarted.
type Boot struct {
	file   *File
	mu     sync.Mutex
	rec    BootRecord
	report reading.BootReport
}

var _ encoding.BinaryMarshaler = &Boot{}
var _ encoding.BinaryUnmarshaler = &Boot{}

func (self *Boot) MarshalBinary() ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return proto.Marshal(&self.rec)
}

func (self *Boot) UnmarshalBinary(b []byte) error {
	var rec BootRecord
	if err := proto.Unmarshal(b, &rec); err != nil {
		return errors.Trace(err)
	}
	self.mu.Lock()
	self.rec = rec
	self.mu.Unlock()
	return nil
}

// OpenBoot loads previous record, starts new boot and stores it.
// Empty root keeps record in memory only.
func OpenBoot(log *log2.Log, root string) (*Boot, error) {
	self := &Boot{file: OpenFile(log, root, bootTag, bootFrameSize)}
	if _, err := self.file.Load(self); err != nil {
		// corrupt record must not prevent start
		log.Error(errors.Annotate(err, "boot record lost"))
		self.rec = BootRecord{}
	}

	self.mu.Lock()
	prev := self.rec
	self.rec = BootRecord{
		Boot:   prev.Boot + 1,
		BootId: uuid.New().String(),
	}
	self.report = reading.BootReport{
		Boot:      self.rec.Boot,
		BootID:    self.rec.BootId,
		LastFatal: prev.LastFatal,
	}
	if prev.LastFatalUnix != 0 {
		self.report.LastFatalAt = time.Unix(0, prev.LastFatalUnix)
	}
	self.mu.Unlock()

	if err := self.file.Save(self); err != nil {
		return self, errors.Trace(err)
	}
	log.Debugf("boot %s previous fatal=%q", self.rec.String(), prev.LastFatal)
	return self, nil
}

// Report describes this boot and how the previous run ended.
func (self *Boot) Report() reading.BootReport {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.report
}

func (self *Boot) RecordFatal(reason string, at time.Time) error {
	if len(reason) > maxFatalLen {
		reason = reason[:maxFatalLen]
	}
	self.mu.Lock()
	self.rec.LastFatal = reason
	self.rec.LastFatalUnix = at.UnixNano()
	self.mu.Unlock()
	return self.file.Save(self)
}

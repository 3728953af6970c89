// Package persist keeps small state across restarts in crash-safe files.
package persist

import (
	"encoding"
	"encoding/binary"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/powermeter/log2"
)

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// frame: uint16 big endian payload length, payload, zero padding to File.size.
// extremofile overwrites in place without truncate, so every write must have same length.
const frameHeader = 2

// File is one extremofile directory root/tag holding a fixed size frame.
// Zero root gives in-memory File, Load finds nothing and Save succeeds.
type File struct {
	log     *log2.Log
	tag     string
	size    int
	mu      sync.Mutex
	storage storage
}

// OpenFile does not perform IO. size is the frame length including header,
// it must not change for the lifetime of stored data.
func OpenFile(log *log2.Log, root, tag string, size int) *File {
	if size <= frameHeader || size > frameHeader+0xffff {
		panic("code error persist frame size")
	}
	self := &File{log: log, tag: tag, size: size}
	if root == "" {
		log.Infof("persist %s memory only", tag)
		return self
	}
	self.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, tag),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return self
}

// Load returns found=false when nothing usable was stored yet.
// Only critical storage errors and decode failures are returned.
func (self *File) Load(target encoding.BinaryUnmarshaler) (bool, error) {
	if self.storage == nil {
		return false, nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	tbegin := time.Now()
	b, err := self.storage.Read()
	self.log.Debugf("persist %s read duration=%v", self.tag, time.Since(tbegin))
	switch {
	case b == nil && extremofile.IsCritical(err):
		return false, errors.Annotatef(err, "persist %s read", self.tag)
	case b == nil && err != nil:
		self.log.Errorf("persist %s start empty storage err=%v", self.tag, err)
		return false, nil
	case b == nil:
		return false, nil
	case err != nil:
		self.log.Errorf("persist %s using recovered copy err=%v", self.tag, err)
	}
	payload, err := self.unframe(b)
	if err != nil {
		return false, errors.Annotatef(err, "persist %s frame", self.tag)
	}
	if err := target.UnmarshalBinary(payload); err != nil {
		return false, errors.Annotatef(err, "persist %s decode", self.tag)
	}
	return true, nil
}

func (self *File) Save(source encoding.BinaryMarshaler) error {
	payload, err := source.MarshalBinary()
	if err != nil {
		return errors.Annotatef(err, "persist %s encode", self.tag)
	}
	b, err := self.frame(payload)
	if err != nil {
		return errors.Annotatef(err, "persist %s encode", self.tag)
	}
	if self.storage == nil {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	tbegin := time.Now()
	_, err = self.storage.Write(b)
	self.log.Debugf("persist %s write bytes=%d duration=%v", self.tag, len(b), time.Since(tbegin))
	return errors.Annotatef(err, "persist %s write", self.tag)
}

func (self *File) frame(payload []byte) ([]byte, error) {
	if len(payload) > self.size-frameHeader {
		return nil, errors.NotValidf("length=%d max=%d", len(payload), self.size-frameHeader)
	}
	b := make([]byte, self.size)
	binary.BigEndian.PutUint16(b, uint16(len(payload)))
	copy(b[frameHeader:], payload)
	return b, nil
}

func (self *File) unframe(b []byte) ([]byte, error) {
	if len(b) != self.size {
		return nil, errors.NotValidf("size=%d expected=%d", len(b), self.size)
	}
	n := int(binary.BigEndian.Uint16(b))
	if n > self.size-frameHeader {
		return nil, errors.NotValidf("length=%d max=%d", n, self.size-frameHeader)
	}
	return b[frameHeader : frameHeader+n], nil
}

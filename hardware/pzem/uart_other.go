//go:build !linux

package pzem

import (
	"time"

	"github.com/juju/errors"
)

type fileUart struct{}

func NewFileUart() Uarter { return fileUart{} }

func (fileUart) Open(path string, baud int) error               { return errors.NotSupportedf("serial port") }
func (fileUart) ReadFull(p []byte, timeout time.Duration) error { return errors.NotSupportedf("serial port") }
func (fileUart) ResetRead() error                               { return nil }
func (fileUart) Write(p []byte) (int, error)                    { return 0, errors.NotSupportedf("serial port") }
func (fileUart) Close() error                                   { return nil }

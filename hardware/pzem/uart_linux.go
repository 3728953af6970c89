//go:build linux

package pzem

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// read(2) returns after vtime deciseconds without input
const vtime = 1

type fileUart struct {
	fd int
}

func NewFileUart() Uarter { return &fileUart{fd: -1} }

func (self *fileUart) Open(path string, baud int) error {
	if self.fd >= 0 {
		_ = self.Close()
	}
	if baud != 9600 {
		return errors.NotSupportedf("baud=%d", baud)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0600)
	if err != nil {
		return errors.Annotatef(err, "open %s", path)
	}
	if err = setRaw(fd); err != nil {
		unix.Close(fd)
		return errors.Annotatef(err, "termios %s", path)
	}
	self.fd = fd
	return nil
}

// 8N1 raw, no flow control
func setRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.Trace(err)
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.B9600
	t.Ispeed = unix.B9600
	t.Ospeed = unix.B9600
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = vtime
	if err = unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return errors.Trace(err)
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}

func (self *fileUart) ReadFull(p []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for off := 0; off < len(p); {
		n, err := unix.Read(self.fd, p[off:])
		if err != nil && err != unix.EINTR && err != unix.EAGAIN {
			return errors.Trace(err)
		}
		if n > 0 {
			off += n
		}
		if off < len(p) && time.Now().After(deadline) {
			return ErrTimeoutT("pzem read timeout")
		}
	}
	return nil
}

func (self *fileUart) ResetRead() error {
	return unix.IoctlSetInt(self.fd, unix.TCFLSH, unix.TCIFLUSH)
}

func (self *fileUart) Write(p []byte) (int, error) {
	n, err := unix.Write(self.fd, p)
	if err != nil {
		return n, errors.Trace(err)
	}
	// wait until frame left the wire, reply timeout counts from here
	return n, unix.IoctlSetInt(self.fd, unix.TCSBRK, 1)
}

func (self *fileUart) Close() error {
	if self.fd < 0 {
		return nil
	}
	err := unix.Close(self.fd)
	self.fd = -1
	return err
}

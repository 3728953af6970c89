package persist

import (
	"github.com/golang/protobuf/proto"
)

// BootRecord wire layout is fixed by field numbers, only append new fields.
type BootRecord struct {
	Boot          uint32 `protobuf:"varint,1,opt,name=boot,proto3" json:"boot,omitempty"`
	BootId        string `protobuf:"bytes,2,opt,name=boot_id,json=bootId,proto3" json:"boot_id,omitempty"`
	LastFatal     string `protobuf:"bytes,3,opt,name=last_fatal,json=lastFatal,proto3" json:"last_fatal,omitempty"`
	LastFatalUnix int64  `protobuf:"varint,4,opt,name=last_fatal_unix,json=lastFatalUnix,proto3" json:"last_fatal_unix,omitempty"`
}

func (m *BootRecord) Reset()         { *m = BootRecord{} }
func (m *BootRecord) String() string { return proto.CompactTextString(m) }
func (*BootRecord) ProtoMessage()    {}

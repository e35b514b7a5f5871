package rpmsg

import (
	"encoding/binary"
	"fmt"
)

// NSNameSize bounds a name-service announcement's name field
// (RPMSG_NAME_SIZE in the original source).
const NSNameSize = 32

// Name-service flags (spec §3 "Name-service control message").
const (
	NSFlagCreate uint32 = 0
	NSFlagDestroy uint32 = 1
)

// nsMsgLen is name[NSNameSize] + addr(u32) + flags(u32).
const nsMsgLen = NSNameSize + 4 + 4

// NSMessage is a decoded name-service announcement.
type NSMessage struct {
	Name  string
	Addr  uint32
	Flags uint32
}

// EncodeNS packs a name-service announcement body (not including the
// rpmsg header — callers send it to NSAddr via the normal Send path).
func EncodeNS(msg NSMessage) ([]byte, error) {
	if len(msg.Name) >= NSNameSize {
		return nil, fmt.Errorf("rpmsg: name-service name %q exceeds %d bytes", msg.Name, NSNameSize-1)
	}
	buf := make([]byte, nsMsgLen)
	copy(buf[0:NSNameSize], msg.Name)
	binary.LittleEndian.PutUint32(buf[NSNameSize:NSNameSize+4], msg.Addr)
	binary.LittleEndian.PutUint32(buf[NSNameSize+4:NSNameSize+8], msg.Flags)
	return buf, nil
}

// DecodeNS unpacks a name-service announcement body.
func DecodeNS(buf []byte) (NSMessage, error) {
	if len(buf) < nsMsgLen {
		return NSMessage{}, fmt.Errorf("rpmsg: %w: name-service body truncated", ErrMalformedHeader)
	}
	name := decodeName(buf[0:NSNameSize])
	return NSMessage{
		Name:  name,
		Addr:  binary.LittleEndian.Uint32(buf[NSNameSize : NSNameSize+4]),
		Flags: binary.LittleEndian.Uint32(buf[NSNameSize+4 : NSNameSize+8]),
	}, nil
}

func decodeName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

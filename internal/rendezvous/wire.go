package rendezvous

import (
	"encoding/binary"
	"fmt"
)

// Wire frame for a target message: magic, version, membytes, cpus, all
// little-endian. The frame is far below PIPE_BUF, so every client write is
// atomic and concurrent senders can never interleave.
const (
	frameMagic   uint32 = 0x5a4e5744 // "DWNZ"
	frameVersion uint32 = 1
	// FrameSize is the fixed length of an encoded Target.
	FrameSize = 24
)

// Target is the desired withholding state sent to the daemon: how many
// bytes of memory and how many CPUs to keep out of service. The zero
// Target is the terminal one, telling the daemon to drain and exit.
type Target struct {
	MemBytes int64
	CPUs     int
}

// Empty reports whether this is the terminal target.
func (t Target) Empty() bool { return t.MemBytes == 0 && t.CPUs == 0 }

// Marshal encodes the target as one fixed-size frame.
func (t Target) Marshal() []byte {
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(b[0:4], frameMagic)
	binary.LittleEndian.PutUint32(b[4:8], frameVersion)
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.MemBytes))
	binary.LittleEndian.PutUint64(b[16:24], uint64(t.CPUs))
	return b
}

// Unmarshal decodes one frame, rejecting wrong sizes, magic or version.
func Unmarshal(b []byte) (Target, error) {
	if len(b) != FrameSize {
		return Target{}, fmt.Errorf("target frame is %d bytes, want %d", len(b), FrameSize)
	}
	if m := binary.LittleEndian.Uint32(b[0:4]); m != frameMagic {
		return Target{}, fmt.Errorf("target frame has bad magic %#x", m)
	}
	if v := binary.LittleEndian.Uint32(b[4:8]); v != frameVersion {
		return Target{}, fmt.Errorf("target frame has unsupported version %d", v)
	}
	return Target{
		MemBytes: int64(binary.LittleEndian.Uint64(b[8:16])),
		CPUs:     int(binary.LittleEndian.Uint64(b[16:24])),
	}, nil
}

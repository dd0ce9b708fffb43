package lcd

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Wire constants of the panel's HID protocol.
const (
	Signature = 0x55

	CmdConfig = 0xA1
	CmdRedraw = 0xA3

	ConfigOrientation = 0xF1
	ConfigSetTime     = 0xF2

	OrientationLandscape = 0x01
	OrientationPortrait  = 0x02
)

// Frame geometry. The split is fixed by the firmware: 26 chunks of 4096
// bytes and a final chunk of 2304 bytes.
const (
	FrameSize      = 320 * 170 * 2
	ChunkSize      = 4096
	ChunkCount     = 27
	FinalChunkSize = FrameSize - (ChunkCount-1)*ChunkSize

	HeaderSize = 9
	ReportSize = HeaderSize + ChunkSize

	// reportID prefixes every HID output report.
	reportID = 0x00
)

// Role marks a chunk's position within a frame.
type Role byte

const (
	RoleStart    Role = 0xF0
	RoleContinue Role = 0xF1
	RoleEnd      Role = 0xF2
)

func (r Role) String() string {
	switch r {
	case RoleStart:
		return "start"
	case RoleContinue:
		return "continue"
	case RoleEnd:
		return "end"
	default:
		return fmt.Sprintf("role(0x%02x)", byte(r))
	}
}

// Chunk is one slice of an encoded frame, sent as one device write.
type Chunk struct {
	Index  int
	Offset int
	Data   []byte
}

// Role is start for the first chunk, end for the last, continue otherwise.
func (c Chunk) Role() Role {
	switch c.Index {
	case 0:
		return RoleStart
	case ChunkCount - 1:
		return RoleEnd
	default:
		return RoleContinue
	}
}

// Sequence is the 1-based chunk number carried on the wire.
func (c Chunk) Sequence() byte {
	return byte(c.Index + 1)
}

// Split cuts an encoded frame into the 27 chunks of one transmission. The
// chunks alias frame.
func Split(frame []byte) ([]Chunk, error) {
	if len(frame) != FrameSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), FrameSize)
	}
	chunks := make([]Chunk, ChunkCount)
	for i := range chunks {
		off := i * ChunkSize
		n := ChunkSize
		if i == ChunkCount-1 {
			n = FinalChunkSize
		}
		chunks[i] = Chunk{Index: i, Offset: off, Data: frame[off : off+n]}
	}
	return chunks, nil
}

// EncodeReport writes the HID report for c into buf, which must hold
// 1+ReportSize bytes. Layout after the report id byte (big-endian):
//
//	0     signature
//	1     redraw command
//	2     role
//	3     sequence (1-based)
//	4     zero
//	5..6  offset into the frame (16-bit, truncated)
//	7..8  payload length
//	9..   pixel data, zero padded
func (c Chunk) EncodeReport(buf []byte) {
	clear(buf)
	buf[0] = reportID
	h := buf[1:]
	h[0] = Signature
	h[1] = CmdRedraw
	h[2] = byte(c.Role())
	h[3] = c.Sequence()
	binary.BigEndian.PutUint16(h[5:7], uint16(c.Offset))
	binary.BigEndian.PutUint16(h[7:9], uint16(len(c.Data)))
	copy(h[HeaderSize:], c.Data)
}

// OrientationReport builds the set-orientation command.
func OrientationReport(portrait bool) []byte {
	v := byte(OrientationLandscape)
	if portrait {
		v = OrientationPortrait
	}
	return configReport(ConfigOrientation, v)
}

// HeartbeatReport pushes the wall-clock time to the panel.
func HeartbeatReport(now time.Time) []byte {
	return configReport(ConfigSetTime, byte(now.Hour()), byte(now.Minute()), byte(now.Second()))
}

func configReport(sub byte, args ...byte) []byte {
	buf := make([]byte, 1+ReportSize)
	buf[0] = reportID
	h := buf[1:]
	h[0] = Signature
	h[1] = CmdConfig
	h[2] = sub
	copy(h[3:], args)
	return buf
}

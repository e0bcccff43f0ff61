// Package protocol implements the Klipper-style framed link between the host
// tools and the stepper driver firmware.
//
// A message block is: length, sequence, VLQ encoded payload, CRC16 (big
// endian) and a 0x7E sync byte. A block with an empty payload is an ACK/NAK.
package protocol

import "errors"

// Version is reported in the data dictionary
const Version = "0.1.0"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

var ErrMessageTooLong = errors.New("message exceeds maximum block length")

// Message is a parsed message block
type Message struct {
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
}

// IsAck reports whether the block carries no commands
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// NextSequence returns the sequence that follows seq, wrapping within 0x10-0x1F
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// EncodeMessage wraps payload into a complete message block
func EncodeMessage(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, ErrMessageTooLong
	}
	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	return append(msg, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// frameScanner splits a byte stream into message blocks, resynchronizing on
// the sync byte after corruption.
type frameScanner struct {
	desynced bool
}

// next extracts the first complete block from data. It returns the block (nil
// when more data is needed) and the number of bytes consumed.
func (s *frameScanner) next(data []byte) (*Message, int) {
	pos := 0
	for pos < len(data) {
		rest := data[pos:]
		if s.desynced {
			i := indexSync(rest)
			if i < 0 {
				return nil, len(data)
			}
			pos += i + 1
			s.desynced = false
			continue
		}
		if rest[0] == MessageValueSync {
			pos++
			continue
		}
		if len(rest) < MessageLengthMin {
			return nil, pos
		}
		msgLen := int(rest[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax ||
			rest[MessagePositionSeq]&^MessageSeqMask != MessageDest {
			s.desynced = true
			continue
		}
		if len(rest) < msgLen {
			return nil, pos
		}
		crc := uint16(rest[msgLen-MessageTrailerCRC])<<8 | uint16(rest[msgLen-MessageTrailerCRC+1])
		if rest[msgLen-MessageTrailerSync] != MessageValueSync ||
			crc != CRC16(rest[:msgLen-MessageTrailerSize]) {
			s.desynced = true
			continue
		}
		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, rest[MessageHeaderSize:msgLen-MessageTrailerSize])
		return &Message{Sequence: rest[MessagePositionSeq], Payload: payload}, pos + msgLen
	}
	return nil, pos
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i
		}
	}
	return -1
}

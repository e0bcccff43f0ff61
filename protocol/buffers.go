package protocol

// OutputBuffer receives encoded protocol data
type OutputBuffer interface {
	Output(data []byte)
}

// ScratchOutput accumulates one message payload
type ScratchOutput struct {
	buf []byte
}

// NewScratchOutput creates an empty payload buffer
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{buf: make([]byte, 0, MessagePayloadMax)}
}

func (s *ScratchOutput) Output(data []byte) {
	s.buf = append(s.buf, data...)
}

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte {
	return s.buf
}

// Reset clears the buffer
func (s *ScratchOutput) Reset() {
	s.buf = s.buf[:0]
}

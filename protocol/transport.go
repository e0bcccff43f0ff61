package protocol

import (
	"io"
	"sync"
)

// CommandHandler is a function type for handling decoded commands.
// The handler decodes its own arguments and advances data past them.
type CommandHandler func(cmdID uint16, data *[]byte) error

// ErrorHandler is told about command frames that failed to process
type ErrorHandler func(cmdID uint16, err error)

// Transport is the MCU side of the link: it validates incoming blocks,
// ACKs them and dispatches the commands they carry.
type Transport struct {
	mu      sync.Mutex
	scanner frameScanner
	pending []byte
	// Expected sequence from host; also the sequence of ACKs and responses
	nextSeq uint8

	out           io.Writer
	handler       CommandHandler
	errorHandler  ErrorHandler
	resetCallback func() // Called when host reset is detected
}

// NewTransport creates a transport writing ACKs and responses to out
func NewTransport(out io.Writer, handler CommandHandler) *Transport {
	return &Transport{
		nextSeq: MessageDest,
		out:     out,
		handler: handler,
	}
}

// Receive feeds bytes read from the link. Complete blocks are ACKed and
// their commands dispatched in order.
func (t *Transport) Receive(data []byte) {
	t.mu.Lock()
	t.pending = append(t.pending, data...)
	var frames [][]byte
	for {
		msg, consumed := t.scanner.next(t.pending)
		t.pending = t.pending[consumed:]
		if msg == nil {
			break
		}
		if msg.Sequence == MessageDest && t.nextSeq != MessageDest {
			// Host restarted its sequence
			t.nextSeq = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if msg.Sequence == t.nextSeq {
			t.nextSeq = NextSequence(msg.Sequence)
			frames = append(frames, msg.Payload)
		}
		// A stale sequence gets the expected one back, acting as a NAK
		t.writeLocked(nil)
	}
	if len(t.pending) == 0 {
		t.pending = nil
	}
	t.mu.Unlock()

	// Handlers may send responses, so dispatch without the lock
	for _, frame := range frames {
		t.parseFrame(frame)
	}
}

// parseFrame dispatches every command in a frame
func (t *Transport) parseFrame(frame []byte) {
	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.reportError(0xFFFF, err)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Arguments of a failed command cannot be skipped reliably
			t.reportError(uint16(cmdID), err)
			return
		}
	}
}

func (t *Transport) reportError(cmdID uint16, err error) {
	if t.errorHandler != nil {
		t.errorHandler(cmdID, err)
	}
}

// SendCommand sends a response (MCU -> host) with arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	payload := NewScratchOutput()
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(payload.Result())
}

func (t *Transport) writeLocked(payload []byte) error {
	msg, err := EncodeMessage(t.nextSeq, payload)
	if err != nil {
		return err
	}
	_, err = t.out.Write(msg)
	return err
}

// Reset resets the transport state (useful after USB disconnect/reconnect)
func (t *Transport) Reset() {
	t.mu.Lock()
	t.nextSeq = MessageDest
	t.pending = nil
	t.scanner = frameScanner{}
	cb := t.resetCallback
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetErrorHandler sets a callback for command errors
func (t *Transport) SetErrorHandler(handler ErrorHandler) {
	t.errorHandler = handler
}

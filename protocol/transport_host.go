package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ResponseHandler is a function type for handling received responses from MCU
type ResponseHandler func(cmdID uint16, data *[]byte) error

var ErrTransportClosed = errors.New("transport stopped")

// HostTransport is the host side of the link: it sends command blocks,
// waits for their ACK and collects responses.
type HostTransport struct {
	port io.ReadWriteCloser

	// Sequence of the next block we send (0x10-0x1F)
	seqMu      sync.Mutex
	currentSeq uint8

	scanner frameScanner
	pending []byte

	ackChan      chan *Message
	responseChan chan *Message

	responseHandler ResponseHandler

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a host-side transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command to the MCU and waits for ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	payload := NewScratchOutput()
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}

	t.seqMu.Lock()
	defer t.seqMu.Unlock()

	msg, err := EncodeMessage(t.currentSeq, payload.Result())
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}
	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	expected := NextSequence(t.currentSeq)
	deadline := time.After(timeout)
	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != expected {
				// ACK for an earlier block, keep waiting
				continue
			}
			t.currentSeq = expected
			return nil
		case <-deadline:
			return fmt.Errorf("ACK timeout after %v", timeout)
		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse receives a response message with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously.
// Must be called before any response arrives.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.responseHandler = handler
}

// readLoop continuously reads from the port and processes messages
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.process(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// process parses and dispatches messages from the received bytes
func (t *HostTransport) process(data []byte) {
	t.pending = append(t.pending, data...)
	for {
		msg, consumed := t.scanner.next(t.pending)
		t.pending = t.pending[consumed:]
		if msg == nil {
			return
		}
		t.dispatch(msg)
	}
}

func (t *HostTransport) dispatch(msg *Message) {
	if msg.IsAck() {
		select {
		case t.ackChan <- msg:
		default:
			// Drop the stale ACK in favor of the newest
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- msg
		}
		return
	}

	if t.responseHandler != nil {
		data := msg.Payload
		if cmdID, err := DecodeVLQUint(&data); err == nil {
			_ = t.responseHandler(uint16(cmdID), &data)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Response channel full, drop oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the transport and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a pending Read
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// CurrentSequence returns the sequence of the next block sent (for debugging)
func (t *HostTransport) CurrentSequence() uint8 {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	return t.currentSeq
}

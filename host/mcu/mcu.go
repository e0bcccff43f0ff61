package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"stepdriver/host/serial"
	"stepdriver/protocol"
)

var (
	ErrNotConnected    = errors.New("not connected to MCU")
	ErrNoDictionary    = errors.New("dictionary not loaded")
	ErrResponseTimeout = errors.New("response timeout")
)

// DefaultTimeout bounds how long a query waits for its response
const DefaultTimeout = time.Second

// MCU represents a connection to a stepper driver microcontroller
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	// Dictionary data
	dictionary     *Dictionary
	dictionaryData []byte

	mu        sync.Mutex
	commands  map[string]*messageFormat
	responses map[uint16]*messageFormat
	queues    map[string]chan *Response

	// Verbose prints progress while retrieving the dictionary
	Verbose bool

	// Connection state
	connected bool
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	m := &MCU{
		commands:  make(map[string]*messageFormat),
		responses: make(map[uint16]*messageFormat),
		queues:    make(map[string]chan *Response),
	}
	// Bootstrap messages, valid before the dictionary is known
	m.addCommand("identify offset=%u count=%c", 1)
	m.addResponse("identify_response offset=%u data=%*s", 0)
	return m
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port: %w", err)
	}
	m.Attach(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open link to the MCU
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	m.connected = false
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	chunkSize := uint8(40)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}
		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if m.Verbose && i%10 == 0 {
			fmt.Printf("  Retrieved %d bytes...\n", offset)
		}
		if len(chunk) < int(chunkSize) {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return nil
}

// sendIdentify requests one dictionary chunk
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	resp, err := m.Query("identify", []int64{int64(offset), int64(count)}, "identify_response", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if got := uint32(resp.Params["offset"]); got != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
	}
	return resp.Data, nil
}

// parseDictionary parses the dictionary JSON and indexes its messages
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	for sig, id := range dict.Commands {
		if err := m.addCommand(sig, id); err != nil {
			return err
		}
	}
	for sig, id := range dict.Responses {
		if err := m.addResponse(sig, id); err != nil {
			return err
		}
	}
	m.dictionary = dict
	return nil
}

func (m *MCU) addCommand(signature string, id int) error {
	mf, err := parseFormat(signature, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.commands[mf.name] = mf
	m.mu.Unlock()
	return nil
}

func (m *MCU) addResponse(signature string, id int) error {
	mf, err := parseFormat(signature, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.responses[mf.id] = mf
	m.mu.Unlock()
	return nil
}

// queue returns the pending responses of one message name
func (m *MCU) queue(name string) chan *Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan *Response, 16)
		m.queues[name] = q
	}
	return q
}

// handleResponse decodes responses from the MCU and queues them by name
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	mf, ok := m.responses[cmdID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown response id %d", cmdID)
	}
	resp, err := mf.decode(data)
	if err != nil {
		return err
	}
	q := m.queue(mf.name)
	select {
	case q <- resp:
	default:
		// Queue full, drop oldest
		select {
		case <-q:
		default:
		}
		q <- resp
	}
	return nil
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints a summary of the dictionary
func (m *MCU) PrintDictionary(w io.Writer) {
	if m.dictionary == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintf(w, "Version: %s\n", m.dictionary.Version)
	fmt.Fprintln(w, "Config:")
	for _, k := range sortedKeys(m.dictionary.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, m.dictionary.Config[k])
	}
	fmt.Fprintf(w, "Commands (%d):\n", len(m.dictionary.Commands))
	for _, name := range sortedKeys(m.dictionary.Commands) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Commands[name], name)
	}
	fmt.Fprintf(w, "Responses (%d):\n", len(m.dictionary.Responses))
	for _, name := range sortedKeys(m.dictionary.Responses) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Responses[name], name)
	}
	for _, name := range sortedKeys(m.dictionary.Enumerations) {
		fmt.Fprintf(w, "Enumeration %s: %v\n", name, sortedKeys(m.dictionary.Enumerations[name]))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnumValue resolves a symbolic value from a dictionary enumeration
func (m *MCU) EnumValue(enum, name string) (int, error) {
	if m.dictionary == nil {
		return 0, ErrNoDictionary
	}
	v, ok := m.dictionary.Enumerations[enum][name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", enum, name)
	}
	return v, nil
}

// SendCommand sends a command by name, encoding args per its dictionary format
func (m *MCU) SendCommand(name string, args ...int64) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.mu.Lock()
	mf, ok := m.commands[name]
	m.mu.Unlock()
	if !ok {
		if m.dictionary == nil {
			return ErrNoDictionary
		}
		return fmt.Errorf("unknown command: %s", name)
	}

	payload := protocol.NewScratchOutput()
	if err := mf.encode(payload, args); err != nil {
		return err
	}
	return m.transport.SendCommand(mf.id, func(output protocol.OutputBuffer) {
		output.Output(payload.Result())
	})
}

// WaitResponse waits for the next response named name
func (m *MCU) WaitResponse(name string, timeout time.Duration) (*Response, error) {
	select {
	case resp := <-m.queue(name):
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s: %w", name, ErrResponseTimeout)
	}
}

// Query sends a command and waits for its response
func (m *MCU) Query(name string, args []int64, response string, timeout time.Duration) (*Response, error) {
	m.drain(response)
	if err := m.SendCommand(name, args...); err != nil {
		return nil, err
	}
	return m.WaitResponse(response, timeout)
}

// drain discards stale responses named name
func (m *MCU) drain(name string) {
	q := m.queue(name)
	for {
		select {
		case <-q:
		default:
			return
		}
	}
}

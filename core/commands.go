package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"stepdriver/protocol"
)

// ResponseSender delivers MCU -> host messages. protocol.Transport implements it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) error
}

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
}

var (
	globalState = &FirmwareState{}

	senderMu     sync.RWMutex
	globalSender ResponseSender

	initOnce sync.Once
)

var ErrUnknownResponse = errors.New("unknown response")

// SetGlobalTransport sets where SendResponse delivers messages
func SetGlobalTransport(s ResponseSender) {
	senderMu.Lock()
	globalSender = s
	senderMu.Unlock()
}

// SendResponse sends a registered response by name
func SendResponse(name string, args func(output protocol.OutputBuffer)) error {
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		return ErrUnknownResponse
	}
	senderMu.RLock()
	s := globalSender
	senderMu.RUnlock()
	if s == nil {
		DebugPrintln("[CMD] no transport for " + name)
		return nil
	}
	return s.SendCommand(cmd.ID, args)
}

// InitCommands registers every firmware command once. Later calls are no-ops.
func InitCommands() {
	initOnce.Do(func() {
		InitCoreCommands()
		InitDriverCommands()
	})
}

// InitCoreCommands registers the core protocol commands.
// Registration order matters: the host bootstraps with
//
//	identify_response = ID 0
//	identify = ID 1
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")

	RegisterConstant("CLOCK_FREQ", "1000000")
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	return SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

// handleGetClock returns the current clock value in microseconds
func handleGetClock(data *[]byte) error {
	now := GetClock().Micros()
	return SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
}

// handleGetConfig returns the configuration state
func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)
	isShutdown := atomic.LoadUint32(&globalState.isShutdown)
	isConfig := uint32(0)
	if crc != 0 {
		isConfig = 1
	}
	return SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, isConfig)
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, isShutdown)
	})
}

// handleConfigReset drops every configured driver and clears shutdown
func handleConfigReset(data *[]byte) error {
	ResetDrivers()
	atomic.StoreUint32(&globalState.configCRC, 0)
	atomic.StoreUint32(&globalState.isShutdown, 0)
	return nil
}

// handleFinalizeConfig finalizes the configuration with a CRC
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

// handleEmergencyStop halts and disables every driver
func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

// TryShutdown stops all motion and refuses further moves until config_reset
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return
	}
	DebugPrintln("[CMD] shutdown: " + reason)
	StopAllDrivers()
}

// IsShutdown reports whether the firmware is shut down
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

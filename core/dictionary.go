package core

import (
	"encoding/json"
	"sync"

	"stepdriver/protocol"
)

// Dictionary is the data dictionary the host retrieves with identify.
// It is served uncompressed as JSON.
type Dictionary struct {
	mu           sync.Mutex
	registry     *CommandRegistry
	version      string
	config       map[string]string
	enumerations map[string]map[string]int
	cached       []byte
}

type dictionaryJSON struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations,omitempty"`
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a command registry
func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		registry:     reg,
		version:      "stepdriver-" + protocol.Version,
		config:       make(map[string]string),
		enumerations: make(map[string]map[string]int),
	}
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

// RegisterConstant adds a constant to the global dictionary
func RegisterConstant(name string, value string) {
	globalDictionary.AddConstant(name, value)
}

// AddConstant exposes a firmware constant to the host
func (d *Dictionary) AddConstant(name string, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config[name] = value
	d.cached = nil
}

// AddEnumeration maps symbolic names to wire values
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	enum := make(map[string]int, len(values))
	for i, v := range values {
		enum[v] = i
	}
	d.enumerations[name] = enum
	d.cached = nil
}

// Generate returns the serialized dictionary, building it on first use
func (d *Dictionary) Generate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil {
		return d.cached
	}
	commands, responses := d.registry.CommandsAndResponses()
	data, err := json.Marshal(dictionaryJSON{
		Version:      d.version,
		Config:       d.config,
		Commands:     commands,
		Responses:    responses,
		Enumerations: d.enumerations,
	})
	if err != nil {
		DebugPrintln("[DICT] marshal failed: " + err.Error())
		return nil
	}
	d.cached = data
	return data
}

// Invalidate drops the cached dictionary after late registrations
func (d *Dictionary) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// GetChunk returns a copy of count bytes of the dictionary starting at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

package core

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDictionaryJSON(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("identify_response", "offset=%u data=%*s", nil)
	reg.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })
	dict := NewDictionary(reg)
	dict.AddConstant("CLOCK_FREQ", "1000000")
	dict.AddEnumeration("chip", []string{"STSPIN820", "A4988"})

	var parsed struct {
		Version      string                    `json:"version"`
		Config       map[string]string         `json:"config"`
		Commands     map[string]int            `json:"commands"`
		Responses    map[string]int            `json:"responses"`
		Enumerations map[string]map[string]int `json:"enumerations"`
	}
	if err := json.Unmarshal(dict.Generate(), &parsed); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v", err)
	}
	if parsed.Version == "" {
		t.Error("Missing version")
	}
	if parsed.Commands["identify offset=%u count=%c"] != 1 {
		t.Errorf("Expected identify ID 1, got %v", parsed.Commands)
	}
	if id, ok := parsed.Responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("Expected identify_response ID 0, got %v", parsed.Responses)
	}
	if parsed.Config["CLOCK_FREQ"] != "1000000" {
		t.Errorf("Expected CLOCK_FREQ constant, got %v", parsed.Config)
	}
	if parsed.Enumerations["chip"]["A4988"] != 1 {
		t.Errorf("Expected chip enumeration, got %v", parsed.Enumerations)
	}
}

func TestDictionaryChunks(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("identify_response", "offset=%u data=%*s", nil)
	dict := NewDictionary(reg)
	full := dict.Generate()

	var rebuilt []byte
	for offset := uint32(0); ; {
		chunk := dict.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		if len(chunk) > 40 {
			t.Fatalf("Chunk too long: %d", len(chunk))
		}
		rebuilt = append(rebuilt, chunk...)
		offset += uint32(len(chunk))
	}
	if !bytes.Equal(rebuilt, full) {
		t.Errorf("Chunks do not reassemble the dictionary")
	}
	if len(dict.GetChunk(uint32(len(full))+10, 40)) != 0 {
		t.Error("Expected empty chunk past the end")
	}
}

func TestDictionaryInvalidatedByConstants(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	before := dict.Generate()
	dict.AddConstant("MCU", "rp2040")
	after := dict.Generate()
	if bytes.Equal(before, after) {
		t.Error("Expected dictionary to change after adding a constant")
	}
}

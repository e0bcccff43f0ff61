package protocol

import "testing"

func TestCRC16(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{[]byte{}, 0xFFFF},
		{[]byte("123456789"), 0x6F91},
	}

	for i, tc := range testCases {
		if result := CRC16(tc.data); result != tc.expected {
			t.Errorf("Test case %d: expected 0x%04X, got 0x%04X", i, tc.expected, result)
		}
	}
}

func TestCRC16DetectsCorruption(t *testing.T) {
	data := []byte{5, MessageDest, 0x01, 0x02}
	crc := CRC16(data)
	data[2] ^= 0x01
	if CRC16(data) == crc {
		t.Error("Single bit flip was not detected")
	}
}

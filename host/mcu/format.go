package mcu

import (
	"fmt"
	"strings"

	"stepdriver/protocol"
)

// paramKind is how a message parameter is encoded on the wire
type paramKind uint8

const (
	paramUint paramKind = iota
	paramInt
	paramBytes
)

type param struct {
	name string
	kind paramKind
}

// messageFormat is a parsed dictionary entry such as "oid=%c steps=%i"
type messageFormat struct {
	id     uint16
	name   string
	params []param
}

// parseFormat parses a dictionary key into its message name and parameters
func parseFormat(signature string, id int) (*messageFormat, error) {
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message format")
	}
	mf := &messageFormat{id: uint16(id), name: fields[0]}
	for _, f := range fields[1:] {
		name, spec, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed parameter %q", mf.name, f)
		}
		var kind paramKind
		switch spec {
		case "%c", "%u", "%hu":
			kind = paramUint
		case "%i", "%hi":
			kind = paramInt
		case "%*s", "%.*s":
			kind = paramBytes
		default:
			return nil, fmt.Errorf("%s: unsupported type %q for %s", mf.name, spec, name)
		}
		mf.params = append(mf.params, param{name: name, kind: kind})
	}
	return mf, nil
}

// encode writes args in parameter order. Byte parameters are not supported
// as command arguments.
func (mf *messageFormat) encode(output protocol.OutputBuffer, args []int64) error {
	if len(args) != len(mf.params) {
		return fmt.Errorf("%s: expected %d arguments, got %d", mf.name, len(mf.params), len(args))
	}
	for i, p := range mf.params {
		switch p.kind {
		case paramUint:
			protocol.EncodeVLQUint(output, uint32(args[i]))
		case paramInt:
			protocol.EncodeVLQInt(output, int32(args[i]))
		default:
			return fmt.Errorf("%s: cannot encode %s as an integer", mf.name, p.name)
		}
	}
	return nil
}

// Response is a decoded MCU -> host message
type Response struct {
	Name   string
	Params map[string]int64
	Data   []byte // Value of a %*s parameter, if any
}

func (mf *messageFormat) decode(data *[]byte) (*Response, error) {
	resp := &Response{Name: mf.name, Params: make(map[string]int64, len(mf.params))}
	for _, p := range mf.params {
		switch p.kind {
		case paramUint:
			v, err := protocol.DecodeVLQUint(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, p.name, err)
			}
			resp.Params[p.name] = int64(v)
		case paramInt:
			v, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, p.name, err)
			}
			resp.Params[p.name] = int64(v)
		case paramBytes:
			b, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, p.name, err)
			}
			resp.Data = b
		}
	}
	return resp, nil
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is a payload encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates an encoding name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q", name)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatMsgpack {
		return "application/x-msgpack"
	}
	return "application/json"
}

// FormatFromContentType maps a MIME type to a format, defaulting to JSON.
func FormatFromContentType(ct string) Format {
	if strings.Contains(strings.ToLower(ct), "msgpack") {
		return FormatMsgpack
	}
	return FormatJSON
}

// Encode serializes v. Msgpack reuses the json struct tags so both encodings
// share one field naming.
func Encode(f Format, v any) ([]byte, error) {
	if f != FormatMsgpack {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into v.
func Decode(f Format, data []byte, v any) error {
	if f != FormatMsgpack {
		return json.Unmarshal(data, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

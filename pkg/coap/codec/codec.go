// Package codec implements the RFC 7252 §3 wire format: header,
// delta-encoded options and the 0xFF payload marker. Encode/Decode are
// the wire-format entry points; the option header helpers are kept
// private so the delta/length extension rules stay in one place.
package codec

import (
	"encoding/binary"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxMessageSize is the UDP datagram budget a CoAP message must fit in.
const MaxMessageSize = 1152

// Encode serialises a Message into its RFC 7252 byte representation.
func Encode(m types.Message) ([]byte, error) {
	tokenBytes := m.Token.Bytes()
	if len(tokenBytes) > 8 {
		return nil, types.ErrTokenTooLong
	}

	header := []byte{
		(m.Version << 6) | (uint8(m.Type) << 4) | uint8(len(tokenBytes)&0x0F),
		m.Code.Byte(),
		byte(m.MessageID >> 8),
		byte(m.MessageID),
	}

	numbers := make([]int, 0, len(m.Options))
	for n := range m.Options {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	var optionBytes []byte
	prev := 0
	for _, number := range numbers {
		valueBytes, err := encodeOptionValue(number, m.Options[number])
		if err != nil {
			return nil, err
		}
		optionBytes = append(optionBytes, encodeOptionHeader(number-prev, len(valueBytes))...)
		optionBytes = append(optionBytes, valueBytes...)
		prev = number
	}

	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(header)+len(tokenBytes)+len(optionBytes)+len(payload)+1)
	out = append(out, header...)
	out = append(out, tokenBytes...)
	out = append(out, optionBytes...)
	if len(payload) > 0 {
		out = append(out, 0xFF)
		out = append(out, payload...)
	}

	if len(out) > MaxMessageSize {
		return nil, types.ErrPayloadTooLarge
	}
	return out, nil
}

// encodeOptionHeader emits the option header byte(s) (nibble pair plus
// extended delta/length bytes), per the sentinels 13/14 for 1- and
// 2-byte extensions.
func encodeOptionHeader(delta, length int) []byte {
	deltaNibble, deltaExt := nibbleAndExtension(delta)
	lengthNibble, lengthExt := nibbleAndExtension(length)

	out := []byte{byte(deltaNibble<<4) | byte(lengthNibble)}
	out = append(out, deltaExt...)
	out = append(out, lengthExt...)
	return out
}

func nibbleAndExtension(value int) (nibble int, ext []byte) {
	switch {
	case value < 13:
		return value, nil
	case value < 269:
		return 13, []byte{byte(value - 13)}
	default:
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(value-269))
		return 14, ext
	}
}

func encodeOptionValue(number int, value interface{}) ([]byte, error) {
	switch number {
	case types.OptionIfNoneMatch:
		return nil, nil
	case types.OptionURIHost, types.OptionURIPath, types.OptionURIQuery,
		types.OptionLocationPath, types.OptionProxyURI, types.OptionProxyScheme, types.OptionLocationQuery:
		s, _ := value.(string)
		return []byte(s), nil
	case types.OptionETag, types.OptionURIPort, types.OptionMaxAge, types.OptionAccept,
		types.OptionSize1, types.OptionSize2, types.OptionBlock1, types.OptionBlock2, types.OptionContentFormat:
		return minimalBigEndian(toInt(value)), nil
	case types.OptionIfMatch:
		b, _ := value.([]byte)
		return b, nil
	default:
		// Unrecognised option numbers never reach encode: the decoder
		// rejects them on the way in and application code only ever
		// sets recognised numbers.
		switch v := value.(type) {
		case string:
			return []byte(v), nil
		case []byte:
			return v, nil
		case int:
			return minimalBigEndian(v), nil
		default:
			return nil, nil
		}
	}
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint16:
		return int(v)
	default:
		return 0
	}
}

// minimalBigEndian returns the shortest big-endian encoding of v (zero
// bytes for v == 0), matching the source's `to_bytes((bit_length()+7)//8)`.
func minimalBigEndian(v int) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

func encodePayload(m types.Message) ([]byte, error) {
	if len(m.Payload) == 0 {
		return nil, nil
	}
	// The wire payload is always raw bytes by the time it reaches the
	// codec; text/JSON decoding of the Content-Format is a concern of
	// the caller (see EncodeJSONPayload/DecodeJSONPayload below), not
	// of the byte-exact RFC 7252 framing.
	return m.Payload, nil
}

// EncodeJSONPayload marshals v with jsoniter and returns bytes suitable
// for Message.Payload alongside a Content-Format=JSON option, used for
// the share-drive upload/rename/move request bodies.
func EncodeJSONPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeJSONPayload unmarshals a message payload previously produced by
// EncodeJSONPayload.
func DecodeJSONPayload(payload []byte, v interface{}) error {
	return json.Unmarshal(payload, v)
}

// MinimalToken renders a monotonic counter as the shortest possible
// big-endian token (1-8 bytes, never empty). This resolves the source's
// Open Question about its unbounded-width int-to-bytes token encoding
// with an explicit, always-valid width.
func MinimalToken(counter uint64) []byte {
	b := minimalBigEndian(int(counter))
	if len(b) == 0 {
		return []byte{0}
	}
	if len(b) > 8 {
		return b[len(b)-8:]
	}
	return b
}

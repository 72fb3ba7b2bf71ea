package codec

import (
	"encoding/binary"
	"net/netip"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Decode parses a raw datagram received from peer into a Message.
// Option values are post-decoded into their typed form using the
// option-number table, and malformed datagrams are rejected with a
// sentinel error describing which invariant was violated.
//
// Mirrors the source's CoapPacket.decode/verify_format split: the
// fixed-size header (version, type, code, message-id, token) is always
// parsed first, so every error returned past that point comes with a
// best-effort Message carrying a real token and message-id the caller
// can address a templated error response to (coap_worker_pool.py's
// __coap_format_filter does exactly this on a failed verify_format).
// Only a datagram too short to contain that header, or whose declared
// token length exceeds 8 or runs past its end, is unaddressable and
// returns a zero Message.
func Decode(raw []byte, peer types.Peer, transport types.Transport) (types.Message, error) {
	if len(raw) < 4 {
		return types.Message{}, types.ErrShortHeader
	}

	version := raw[0] >> 6
	messageType := types.MessageType((raw[0] >> 4) & 0b11)
	tokenLength := int(raw[0] & 0x0F)
	code := types.CodeFromByte(raw[1])
	messageID := binary.BigEndian.Uint16(raw[2:4])

	if tokenLength > 8 || 4+tokenLength > len(raw) {
		return types.Message{}, types.ErrTokenTooLong
	}
	token := types.Token(raw[4 : 4+tokenLength])

	partial := types.Message{
		Version:   version,
		Type:      messageType,
		Code:      code,
		MessageID: messageID,
		Token:     token,
		Peer:      peer,
		Transport: transport,
	}

	if version != 1 {
		return partial, types.ErrInvalidVersion
	}

	offset := 4 + tokenLength
	options := map[int]interface{}{}
	prev := 0

	for offset < len(raw) && raw[offset] != 0xFF {
		b := raw[offset]
		offset++

		deltaNibble := int(b >> 4)
		lengthNibble := int(b & 0x0F)

		delta, newOffset, err := decodeExtension(raw, offset, deltaNibble)
		if err != nil {
			return partial, err
		}
		offset = newOffset

		length, newOffset, err := decodeExtension(raw, offset, lengthNibble)
		if err != nil {
			return partial, err
		}
		offset = newOffset

		if offset+length > len(raw) {
			return partial, types.ErrTruncatedOption
		}

		number := prev + delta
		value, err := decodeOptionValue(number, raw[offset:offset+length])
		if err != nil {
			return partial, err
		}
		if !types.OptionRecognised(number) {
			return partial, types.ErrUnrecognisedOption
		}
		options[number] = value

		offset += length
		prev = number
	}

	// offset < len(raw) here only when the loop stopped on the 0xFF
	// marker itself (the loop condition rules out any other byte), so
	// the payload, if any, always starts right after it.
	var payload []byte
	if offset < len(raw) {
		payload = raw[offset+1:]
	}

	partial.Options = options
	partial.Payload = payload
	return partial, nil
}

// decodeExtension reads a delta/length nibble, resolving the 13/14
// sentinels into their extended-byte forms. 15 is reserved and rejected.
func decodeExtension(raw []byte, offset int, nibble int) (value int, newOffset int, err error) {
	switch nibble {
	case 13:
		if offset >= len(raw) {
			return 0, offset, types.ErrTruncatedOption
		}
		return 13 + int(raw[offset]), offset + 1, nil
	case 14:
		if offset+1 >= len(raw) {
			return 0, offset, types.ErrTruncatedOption
		}
		return 269 + int(binary.BigEndian.Uint16(raw[offset:offset+2])), offset + 2, nil
	case 15:
		return 0, offset, types.ErrReservedOptionDelta
	default:
		return nibble, offset, nil
	}
}

func decodeOptionValue(number int, raw []byte) (interface{}, error) {
	switch number {
	case types.OptionIfNoneMatch:
		return nil, nil
	case types.OptionURIHost, types.OptionURIPath, types.OptionURIQuery,
		types.OptionLocationPath, types.OptionProxyURI, types.OptionProxyScheme, types.OptionLocationQuery:
		return string(raw), nil
	case types.OptionETag, types.OptionURIPort, types.OptionMaxAge, types.OptionAccept,
		types.OptionSize1, types.OptionSize2, types.OptionContentFormat:
		return bigEndianToInt(raw), nil
	case types.OptionBlock1, types.OptionBlock2:
		// Always integer-valued regardless of the encoded byte count.
		return bigEndianToInt(raw), nil
	case types.OptionIfMatch:
		return append([]byte(nil), raw...), nil
	default:
		return append([]byte(nil), raw...), nil
	}
}

func bigEndianToInt(raw []byte) int {
	var v int
	for _, b := range raw {
		v = (v << 8) | int(b)
	}
	return v
}

// PeerFromAddrPort wraps a netip.AddrPort as a types.Peer.
func PeerFromAddrPort(addr netip.AddrPort) types.Peer {
	return types.Peer{Addr: addr}
}

package codec

import (
	"bytes"
	"net/netip"
	"reflect"
	"testing"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

type nopTransport struct{}

func (nopTransport) SendTo(types.Peer, []byte) error { return nil }

func peer() types.Peer {
	return types.Peer{Addr: netip.MustParseAddrPort("127.0.0.1:5683")}
}

func TestRoundTrip_NoOptions(t *testing.T) {
	m := types.Message{
		Version:   1,
		Type:      types.CON,
		Code:      types.Get,
		MessageID: 0x1234,
		Token:     types.Token([]byte{0xAB, 0xCD}),
		Options:   map[int]interface{}{},
		Peer:      peer(),
		Transport: nopTransport{},
	}

	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw, m.Peer, m.Transport)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Type != m.Type || decoded.Code != m.Code || decoded.MessageID != m.MessageID || decoded.Token != m.Token {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, m)
	}
}

// TestRoundTrip_OptionDeltas round-trips pairs of options whose deltas
// (1, 2, 4 and 10) all fit in the single option-header nibble; the
// extended forms are covered by TestRoundTrip_LargeDeltaAndLength.
func TestRoundTrip_OptionDeltas(t *testing.T) {
	cases := [][]int{
		{types.OptionIfMatch, types.OptionURIHost},                    // delta 2
		{types.OptionURIHost, types.OptionURIPort},                    // delta 4
		{types.OptionIfMatch, types.OptionURIPath},                    // delta 10 then URIPath itself
	}
	for _, numbers := range cases {
		options := map[int]interface{}{}
		for _, n := range numbers {
			options[n] = sampleValue(n)
		}
		m := types.Message{
			Version: 1, Type: types.CON, Code: types.Get, MessageID: 7,
			Token: types.Token([]byte{0x01}), Options: options,
			Peer: peer(), Transport: nopTransport{},
		}
		raw, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %v: %v", numbers, err)
		}
		decoded, err := Decode(raw, m.Peer, m.Transport)
		if err != nil {
			t.Fatalf("decode %v: %v", numbers, err)
		}
		for _, n := range numbers {
			if !reflect.DeepEqual(decoded.Options[n], options[n]) {
				t.Errorf("option %d: got %v want %v", n, decoded.Options[n], options[n])
			}
		}
	}
}

func sampleValue(number int) interface{} {
	switch number {
	case types.OptionIfMatch:
		return []byte{0x01, 0x02}
	case types.OptionURIHost, types.OptionURIPath:
		return "example"
	default:
		return 1
	}
}

func TestRoundTrip_LargeDeltaAndLength(t *testing.T) {
	// No two recognised option numbers are 269 or more apart, so a
	// 2-byte extended delta can't occur; this covers the 1-byte delta
	// extension (If-Match 1 -> Proxy-Uri 35, delta 34) and the 2-byte
	// length extension (a 300-byte If-Match value).
	longValue := bytes.Repeat([]byte{0x42}, 300) // forces length sentinel 14
	proxyURI := "coap://proxy.example"
	m := types.Message{
		Version: 1, Type: types.NON, Code: types.Put, MessageID: 99,
		Token: types.Token([]byte{0xFF}),
		Options: map[int]interface{}{
			types.OptionIfMatch:  longValue,
			types.OptionProxyURI: proxyURI,
		},
		Payload:   []byte("short payload"),
		Peer:      peer(),
		Transport: nopTransport{},
	}
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(raw, m.Peer, m.Transport)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, _ := decoded.Options[types.OptionIfMatch].([]byte)
	if !bytes.Equal(got, longValue) {
		t.Fatalf("long option value mismatch: got %d bytes want %d", len(got), len(longValue))
	}
	if decoded.Options[types.OptionProxyURI] != proxyURI {
		t.Fatalf("Proxy-Uri mismatch: got %v want %q", decoded.Options[types.OptionProxyURI], proxyURI)
	}
	if !bytes.Equal(decoded.Payload, m.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", decoded.Payload, m.Payload)
	}
}

func TestDecode_ShortHeader(t *testing.T) {
	if _, err := Decode([]byte{0x40, 0x01}, peer(), nopTransport{}); err != types.ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestDecode_TokenTooLong(t *testing.T) {
	raw := []byte{0x49, 0x01, 0x00, 0x01} // token length nibble = 9
	if _, err := Decode(raw, peer(), nopTransport{}); err != types.ErrTokenTooLong {
		t.Fatalf("expected ErrTokenTooLong, got %v", err)
	}
}

func TestDecode_ReservedOptionDelta(t *testing.T) {
	raw := []byte{0x40, 0x01, 0x00, 0x01, 0xF0} // option header nibble 15 reserved
	if _, err := Decode(raw, peer(), nopTransport{}); err != types.ErrReservedOptionDelta {
		t.Fatalf("expected ErrReservedOptionDelta, got %v", err)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	m := types.Message{
		Version: 1, Type: types.CON, Code: types.Content, MessageID: 1,
		Payload:   bytes.Repeat([]byte{0x01}, MaxMessageSize),
		Options:   map[int]interface{}{},
		Peer:      peer(),
		Transport: nopTransport{},
	}
	if _, err := Encode(m); err != types.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestJSONPayloadRoundTrip(t *testing.T) {
	in := map[string]string{"rename": "new.txt"}
	raw, err := EncodeJSONPayload(in)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	var out map[string]string
	if err := DecodeJSONPayload(raw, &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out["rename"] != in["rename"] {
		t.Fatalf("got %v want %v", out, in)
	}
}

func TestMinimalToken(t *testing.T) {
	if got := MinimalToken(0); len(got) == 0 {
		t.Fatalf("MinimalToken(0) must not be empty")
	}
	if got := MinimalToken(1); len(got) != 1 || got[0] != 1 {
		t.Fatalf("MinimalToken(1) = %v, want [1]", got)
	}
	if got := MinimalToken(^uint64(0)); len(got) > 8 {
		t.Fatalf("MinimalToken must never exceed 8 bytes, got %d", len(got))
	}
}

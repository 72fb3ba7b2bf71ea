package core

import (
	"github.com/dtudor/coap-share-drive/pkg/coap/codec"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// sendMessage encodes m and hands it to its own Transport. Every
// component that emits a Message — Transaction retransmits, the
// dispatcher's ACKs, Resource replies, the block-wise splitter —
// funnels through here so the wire format stays in one place.
func sendMessage(m types.Message) error {
	raw, err := codec.Encode(m)
	if err != nil {
		return err
	}
	return m.Transport.SendTo(m.Peer, raw)
}

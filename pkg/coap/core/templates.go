package core

import "github.com/dtudor/coap-share-drive/pkg/coap/types"

// Template is a named, reusable Message skeleton (mirrors the source's
// CoapTemplates enum). With returns a copy stamped with the token,
// message-id and peer needed to actually send it.
type Template struct {
	Type    types.MessageType
	Code    types.Code
	Payload []byte
}

func (t Template) With(token types.Token, messageID uint16, peer types.Peer, transport types.Transport) types.Message {
	return types.Message{
		Version:   1,
		Type:      t.Type,
		Code:      t.Code,
		MessageID: messageID,
		Token:     token,
		Options:   map[int]interface{}{},
		Payload:   append([]byte(nil), t.Payload...),
		Peer:      peer,
		Transport: transport,
	}
}

// Response templates used across the dispatcher, transaction and
// resource layers, mirroring the original CoapTemplates enum.
var (
	TemplateNotImplemented = Template{Type: types.RST, Code: types.NotImplemented}
	TemplateBadRequest     = Template{Type: types.RST, Code: types.BadRequest}
	TemplateConflict       = Template{Type: types.RST, Code: types.Conflict}
	TemplateNotFound       = Template{Type: types.RST, Code: types.NotFound}
	TemplateFailedRequest  = Template{Type: types.RST, Code: types.EntityIncomplete}
	TemplateInternalError  = Template{Type: types.RST, Code: types.InternalServerError}

	TemplateEmptyACK            = Template{Type: types.ACK, Code: types.Empty}
	TemplateSuccessContinueACK  = Template{Type: types.ACK, Code: types.Continue}
	TemplateSuccessDeleted      = Template{Type: types.ACK, Code: types.Deleted}
	TemplateSuccessChanged      = Template{Type: types.ACK, Code: types.Changed}
	TemplateSuccessCreated      = Template{Type: types.ACK, Code: types.Created}
	TemplateContentResponse     = Template{Type: types.CON, Code: types.Content}
	TemplatePathResponse        = Template{Type: types.CON, Code: types.Content}
)

package sharedrive

import (
	"context"
	"path/filepath"

	"github.com/dtudor/coap-share-drive/pkg/coap/blockwise"
	"github.com/dtudor/coap-share-drive/pkg/coap/codec"
	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// ResourceName is the URI-Path first segment share-drive is addressed
// by, on both the server and the client.
const ResourceName = "share_drive"

// uploadMetadata is the JSON body of a POST carrying a control
// instruction: exactly one of Rename, Move or UploadPath is set
// (§6 CLI: `{"rename": ...}`, `{"move": ...}`, `{"upload_path": ...}`).
type uploadMetadata struct {
	Rename     string `json:"rename,omitempty"`
	Move       string `json:"move,omitempty"`
	UploadPath string `json:"upload_path,omitempty"`
}

// ServerResource is the "share_drive" resource a coap-server registers:
// GET streams a file (or a zipped directory) back to the requester
// block by block, PUT reassembles an inbound block-wise upload, POST
// carries rename/move/upload_path control instructions, and DELETE
// removes a file or directory.
type ServerResource struct {
	core.BaseResource

	Root      string
	Splitter  *blockwise.Splitter
	Assembler *blockwise.Assembler
	Log       types.Logger
}

// ServerSinkFactory resolves an inbound upload's destination from its
// URI-Path remainder (the segment after "share_drive"), joined onto
// root.
func ServerSinkFactory(root string) blockwise.SinkFactory {
	return func(first types.Message) (blockwise.Sink, error) {
		_, rest, ok := first.URIPath()
		if !ok || rest == "" {
			return nil, types.ErrUnrecognisedOption
		}
		return NewFileSink(filepath.Join(root, rest)), nil
	}
}

func (s *ServerResource) targetPath(msg types.Message) (string, bool) {
	_, rest, ok := msg.URIPath()
	if !ok || rest == "" {
		return "", false
	}
	return filepath.Join(s.Root, rest), true
}

// HandleGet streams the file (or zipped directory) named by msg's
// URI-Path back to the requester as a sequence of CONTENT blocks,
// blocking for the duration of the transfer the way the source's
// heavy_work context keeps the worker occupied.
func (s *ServerResource) HandleGet(msg types.Message) types.Message {
	path, ok := s.targetPath(msg)
	if !ok {
		return core.TemplateBadRequest.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	if !Exists(path) {
		return core.TemplateNotFound.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}

	source := path
	temp := false
	if info, err := statDir(path); err == nil && info {
		zipped, err := ZipDirectory(path)
		if err != nil {
			s.Log.Errorf("share_drive: zip of %s failed: %v", path, err)
			return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
		source = zipped
		temp = true
	}
	if temp {
		defer Delete(source)
	}

	locationPath := filepath.Base(path)
	if temp {
		locationPath += ".zip"
	}

	if err := s.Splitter.SendFile(context.Background(), msg, source, locationPath); err != nil {
		s.Log.Errorf("share_drive: send of %s failed: %v", path, err)
	}
	return types.Message{}
}

// HandlePut appends one inbound block of an upload to its destination
// file via the process-wide Assembler. The CON-level ACK was already
// sent by the dispatcher, so no further reply is produced here.
func (s *ServerResource) HandlePut(msg types.Message) types.Message {
	if err := s.Assembler.Accept(msg); err != nil {
		s.Log.Errorf("share_drive: upload block rejected: %v", err)
		return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	return types.Message{}
}

// HandleDelete removes the file or directory named by msg's URI-Path.
func (s *ServerResource) HandleDelete(msg types.Message) types.Message {
	path, ok := s.targetPath(msg)
	if !ok {
		return core.TemplateBadRequest.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	if !Exists(path) {
		return core.TemplateNotFound.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	if err := Delete(path); err != nil {
		s.Log.Errorf("share_drive: delete of %s failed: %v", path, err)
		return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	return core.TemplateSuccessDeleted.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
}

// HandlePost carries the rename/move/upload_path control instructions
// (§6): rename and move act on the path named by URI-Path, upload_path
// pre-creates a directory a subsequent PUT will upload into.
func (s *ServerResource) HandlePost(msg types.Message) types.Message {
	path, ok := s.targetPath(msg)
	if !ok {
		return core.TemplateBadRequest.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}

	var meta uploadMetadata
	if err := codec.DecodeJSONPayload(msg.Payload, &meta); err != nil {
		return core.TemplateBadRequest.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}

	switch {
	case meta.Rename != "":
		if !Exists(path) {
			return core.TemplateNotFound.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
		if _, err := Rename(path, meta.Rename); err != nil {
			return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
	case meta.Move != "":
		if !Exists(path) {
			return core.TemplateNotFound.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
		if _, err := Move(path, meta.Move); err != nil {
			return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
	case meta.UploadPath != "":
		if Exists(filepath.Join(path, meta.UploadPath)) {
			return core.TemplateConflict.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
		if err := EnsureDir(filepath.Join(path, meta.UploadPath)); err != nil {
			return core.TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
	default:
		return core.TemplateBadRequest.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	return core.TemplateSuccessChanged.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
}

var _ core.Resource = (*ServerResource)(nil)

package sharedrive

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dtudor/coap-share-drive/pkg/coap"
	"github.com/dtudor/coap-share-drive/pkg/coap/blockwise"
	"github.com/dtudor/coap-share-drive/pkg/coap/codec"
	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// ClientResource is the resource a coap-client registers to receive
// its own outstanding requests' responses: every CONTENT block of a
// download lands in Response and is handed to the Assembler.
type ClientResource struct {
	core.BaseResource

	Assembler *blockwise.Assembler
	Log       types.Logger
}

// ClientSinkFactory resolves a download's destination from the
// Location-Path option the server's splitter stamps on the first
// block, joined onto downloadsRoot.
func ClientSinkFactory(downloadsRoot string) blockwise.SinkFactory {
	return func(first types.Message) (blockwise.Sink, error) {
		name, _ := first.Options[types.OptionLocationPath].(string)
		if name == "" {
			name = uuid.NewString()
		}
		return NewFileSink(filepath.Join(downloadsRoot, name)), nil
	}
}

// Response feeds every inbound success response to the Assembler.
func (c *ClientResource) Response(msg types.Message) types.Message {
	if _, _, ok := msg.BlockOption(); !ok {
		return types.Message{}
	}
	if err := c.Assembler.Accept(msg); err != nil {
		c.Log.Errorf("share_drive client: failed accepting block: %v", err)
	}
	return types.Message{}
}

var _ core.Resource = (*ClientResource)(nil)

// Client is the share-drive front door a CLI subcommand drives: one
// coap.Endpoint talking to a single fixed server Peer, with its own
// request-token and message-id counters.
type Client struct {
	Endpoint *coap.Endpoint
	Server   types.Peer

	messageID uint32
	token     uint64
}

// NewClient wires ep to address every request to server.
func NewClient(ep *coap.Endpoint, server types.Peer) *Client {
	return &Client{Endpoint: ep, Server: server}
}

func (c *Client) nextMessageID() uint16 {
	return uint16(atomic.AddUint32(&c.messageID, 1))
}

func (c *Client) nextToken() types.Token {
	n := atomic.AddUint64(&c.token, 1)
	return types.Token(codec.MinimalToken(n))
}

func (c *Client) request(code types.Code, uriPath string, options map[int]interface{}, payload []byte) types.Message {
	opts := map[int]interface{}{types.OptionURIPath: uriPath}
	for k, v := range options {
		opts[k] = v
	}
	return types.Message{
		Version:   1,
		Type:      types.CON,
		Code:      code,
		MessageID: c.nextMessageID(),
		Token:     c.nextToken(),
		Options:   opts,
		Payload:   payload,
		Peer:      c.Server,
		Transport: c.Endpoint.Transport,
	}
}

// Download sends a CON GET for remotePath and blocks until the
// TransactionPool reports the overall transfer finished (or ctx is
// cancelled). Reassembled bytes land under the client's downloads root
// via the endpoint's ClientResource/Assembler.
func (c *Client) Download(ctx context.Context, remotePath string) error {
	req := c.request(types.Get, ResourceName+"/"+remotePath, map[int]interface{}{
		types.OptionBlock2: types.EncodeBlockValue(0, false, c.Endpoint.Cfg.DefaultBlockSZX),
	}, nil)
	if err := c.Endpoint.Pool.Add(req, req.MessageID); err != nil {
		return err
	}
	return c.Endpoint.Pool.WaitOverall(ctx, req)
}

// Upload streams localPath's bytes to the server under remoteDir: a
// POST carrying the upload_path metadata pre-creates the destination
// directory, then the file (zipped first if it's a directory) is
// streamed as a sequence of PUT blocks.
func (c *Client) Upload(ctx context.Context, localPath, remoteDir string) error {
	name := filepath.Base(localPath)

	meta, err := codec.EncodeJSONPayload(map[string]string{"upload_path": name})
	if err != nil {
		return err
	}
	post := c.request(types.Post, ResourceName+"/"+remoteDir,
		map[int]interface{}{types.OptionContentFormat: types.ContentFormatJSON}, meta)
	if err := c.Endpoint.Pool.Add(post, post.MessageID); err != nil {
		return err
	}

	source := localPath
	if isDir, err := statDir(localPath); err == nil && isDir {
		zipped, err := ZipDirectory(localPath)
		if err != nil {
			return err
		}
		defer Delete(zipped)
		source = zipped
		name += ".zip"
	}

	first := c.request(types.Put, ResourceName+"/"+filepath.Join(remoteDir, name),
		map[int]interface{}{types.OptionBlock1: types.EncodeBlockValue(0, false, c.Endpoint.Cfg.DefaultBlockSZX)}, nil)

	splitter := blockwise.NewSplitter(c.Endpoint.Pool, c.Endpoint.Log, c.Endpoint.Cfg)
	return splitter.SendFile(ctx, first, source, name)
}

// Rename asks the server to rename remotePath's basename to newName.
func (c *Client) Rename(ctx context.Context, remotePath, newName string) error {
	return c.control(ctx, remotePath, map[string]string{"rename": newName})
}

// Move asks the server to move remotePath into newLocation.
func (c *Client) Move(ctx context.Context, remotePath, newLocation string) error {
	return c.control(ctx, remotePath, map[string]string{"move": newLocation})
}

// Delete asks the server to delete remotePath.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	req := c.request(types.Delete, ResourceName+"/"+remotePath, nil, nil)
	if err := c.Endpoint.Pool.Add(req, req.MessageID); err != nil {
		return err
	}
	return c.Endpoint.Pool.WaitOverall(ctx, req)
}

func (c *Client) control(ctx context.Context, remotePath string, body map[string]string) error {
	payload, err := codec.EncodeJSONPayload(body)
	if err != nil {
		return err
	}
	req := c.request(types.Post, ResourceName+"/"+remotePath,
		map[int]interface{}{types.OptionContentFormat: types.ContentFormatJSON}, payload)
	if err := c.Endpoint.Pool.Add(req, req.MessageID); err != nil {
		return err
	}
	return c.Endpoint.Pool.WaitOverall(ctx, req)
}

package core

import "github.com/dtudor/coap-share-drive/pkg/coap/types"

// Resource is the handler contract a URI-Path segment routes to,
// mirroring the original Resource ABC: one method per CoAP verb plus
// Internal (server-to-server forwarding) and Response (reply to a
// request this endpoint itself issued).
type Resource interface {
	HandleGet(msg types.Message) types.Message
	HandlePut(msg types.Message) types.Message
	HandlePost(msg types.Message) types.Message
	HandleDelete(msg types.Message) types.Message
	HandleFetch(msg types.Message) types.Message
	Internal(msg types.Message) types.Message
	Response(msg types.Message) types.Message
}

// BaseResource answers every verb with 5.01 Not Implemented. Concrete
// resources embed it and override only the verbs they serve.
type BaseResource struct{}

func (BaseResource) notImplemented(msg types.Message) types.Message {
	return TemplateNotImplemented.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
}

func (b BaseResource) HandleGet(msg types.Message) types.Message    { return b.notImplemented(msg) }
func (b BaseResource) HandlePut(msg types.Message) types.Message    { return b.notImplemented(msg) }
func (b BaseResource) HandlePost(msg types.Message) types.Message   { return b.notImplemented(msg) }
func (b BaseResource) HandleDelete(msg types.Message) types.Message { return b.notImplemented(msg) }
func (b BaseResource) HandleFetch(msg types.Message) types.Message  { return b.notImplemented(msg) }
func (b BaseResource) Internal(msg types.Message) types.Message     { return b.notImplemented(msg) }
func (b BaseResource) Response(msg types.Message) types.Message     { return b.notImplemented(msg) }

// Dispatch routes msg to the Resource method matching its code.
func Dispatch(r Resource, msg types.Message) types.Message {
	switch msg.Code {
	case types.Get:
		return r.HandleGet(msg)
	case types.Put:
		return r.HandlePut(msg)
	case types.Post:
		return r.HandlePost(msg)
	case types.Delete:
		return r.HandleDelete(msg)
	case types.Fetch:
		return r.HandleFetch(msg)
	default:
		if types.IsSuccess(msg.Code) || msg.Code.Category() == types.CategoryClientError ||
			msg.Code.Category() == types.CategoryServerError {
			return r.Response(msg)
		}
		return r.Internal(msg)
	}
}

// ResourceRegistry maps the first URI-Path segment to a Resource,
// falling back to a configurable default when no entry matches.
type ResourceRegistry struct {
	resources map[string]Resource
	fallback  Resource
}

// NewResourceRegistry builds an empty registry that answers unknown
// paths with fallback (typically a BaseResource).
func NewResourceRegistry(fallback Resource) *ResourceRegistry {
	return &ResourceRegistry{resources: map[string]Resource{}, fallback: fallback}
}

// Register installs resource under name, the first URI-Path segment
// clients address it by.
func (r *ResourceRegistry) Register(name string, resource Resource) {
	r.resources[name] = resource
}

// Lookup resolves msg's first URI-Path segment to its Resource,
// falling back to the registry default when unmatched or absent.
func (r *ResourceRegistry) Lookup(msg types.Message) Resource {
	name, _, ok := msg.URIPath()
	if !ok {
		return r.fallback
	}
	if resource, found := r.resources[name]; found {
		return resource
	}
	return r.fallback
}

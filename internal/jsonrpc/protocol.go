package jsonrpc

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// JSON-RPC 2.0 types as spoken by indexing servers: positional params,
// client-assigned string ids, and id-less pushes for subscriptions.

// Version is the jsonrpc member sent on every request.
const Version = "2.0"

// NoID marks a response that carried no id (absent or null). Combined with
// a method name it identifies an unsolicited subscription push.
const NoID = ""

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Call is a method and its params before an id is assigned.
type Call struct {
	Method string
	Params []any
}

// Response is a JSON-RPC 2.0 response or a server push. For pushes ID is
// NoID and Method and Params are set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsPush reports whether the response is an unsolicited notification.
func (r *Response) IsPush() bool {
	return r.ID == NoID && r.Method != ""
}

// Payload returns Result for replies and Params for pushes.
func (r *Response) Payload() json.RawMessage {
	if r.IsPush() {
		return r.Params
	}
	return r.Result
}

// Err returns the server error, if any, as an error value.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Batch is an ordered set of responses that answer one batched request.
type Batch []Response

// IDs returns the member ids in arrival order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i := range b {
		ids[i] = b[i].ID
	}
	return ids
}

// ByID returns the member answering id.
func (b Batch) ByID(id string) (*Response, bool) {
	for i := range b {
		if b[i].ID == id {
			return &b[i], true
		}
	}
	return nil, false
}

// Message is one decoded inbound frame: exactly one of Response or Batch
// is set.
type Message struct {
	Response *Response
	Batch    Batch
}

// IsBatch reports whether the frame was a JSON array.
func (m Message) IsBatch() bool {
	return m.Response == nil
}

// compoundSep joins member ids. Client ids are decimal, so it never occurs
// inside one and {"1","23"} stays distinct from {"12","3"}.
const compoundSep = ","

// CompoundID identifies a batch by its member ids: sorted lexicographically
// then joined, so member order does not matter.
func CompoundID(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(sorted, compoundSep)
}

// RPCError is a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON also accepts the bare-string errors some servers send.
func (e *RPCError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Code = CodeInternalError
		e.Message = s
		return nil
	}
	type plain RPCError
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = RPCError(p)
	return nil
}

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server-defined codes used by indexing servers.
	CodeBadRequest  = 1
	CodeDaemonError = 2
)

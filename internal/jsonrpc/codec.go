package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed is returned for frames that are not a JSON-RPC response or
// batch of responses.
var ErrMalformed = errors.New("malformed message")

// NewRequest builds a request with a non-nil params list; servers reject a
// missing or null params member.
func NewRequest(id, method string, params []any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// EncodeRequest serializes one request frame without the line terminator.
func EncodeRequest(r Request) ([]byte, error) {
	if r.Params == nil {
		r.Params = []any{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Method, err)
	}
	return data, nil
}

// EncodeBatch serializes requests as one JSON array frame.
func EncodeBatch(reqs []Request) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, errors.New("encode batch: no requests")
	}
	out := make([]Request, len(reqs))
	for i, r := range reqs {
		if r.Params == nil {
			r.Params = []any{}
		}
		out[i] = r
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// wireResponse keeps the id raw so numeric, string, and null ids can all
// be normalized.
type wireResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (w wireResponse) response() (Response, error) {
	id, err := normalizeID(w.ID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		ID:     id,
		Result: w.Result,
		Error:  w.Error,
		Method: w.Method,
		Params: w.Params,
	}, nil
}

// Decode parses one inbound frame. A frame whose first non-space byte is
// '[' is a batch; anything else is a single response or push.
func Decode(line []byte) (Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	if trimmed[0] == '[' {
		var raw []wireResponse
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(raw) == 0 {
			return Message{}, fmt.Errorf("%w: empty batch", ErrMalformed)
		}
		batch := make(Batch, len(raw))
		for i, w := range raw {
			r, err := w.response()
			if err != nil {
				return Message{}, err
			}
			batch[i] = r
		}
		return Message{Batch: batch}, nil
	}

	var w wireResponse
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r, err := w.response()
	if err != nil {
		return Message{}, err
	}
	return Message{Response: &r}, nil
}

func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NoID, nil
	}
	switch raw[0] {
	case '"':
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			var js string
			if jerr := json.Unmarshal(raw, &js); jerr != nil {
				return "", fmt.Errorf("%w: bad id %s", ErrMalformed, raw)
			}
			s = js
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: bad id %s", ErrMalformed, raw)
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("%w: bad id %s", ErrMalformed, raw)
	}
}

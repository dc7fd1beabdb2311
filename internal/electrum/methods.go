package electrum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/revittco/electrumlink/internal/jsonrpc"
	"github.com/revittco/electrumlink/internal/subscription"
)

// Caller issues one correlated request. *client.Client and *Cache
// implement it.
type Caller interface {
	Send(ctx context.Context, method string, params ...any) (*jsonrpc.Response, error)
}

// Subscriber registers a standing subscription. *client.Client implements it.
type Subscriber interface {
	Subscribe(sub subscription.Subscription) error
}

// Protocol method names.
const (
	MethodServerVersion        = "server.version"
	MethodPing                 = "server.ping"
	MethodBanner               = "server.banner"
	MethodFeatures             = "server.features"
	MethodHeadersSubscribe     = "blockchain.headers.subscribe"
	MethodBlockHeader          = "blockchain.block.header"
	MethodTransactionGet       = "blockchain.transaction.get"
	MethodTransactionBroadcast = "blockchain.transaction.broadcast"
	MethodGetBalance           = "blockchain.scripthash.get_balance"
	MethodGetHistory           = "blockchain.scripthash.get_history"
	MethodEstimateFee          = "blockchain.estimatefee"
)

// call sends method and decodes a successful result into out.
func call(ctx context.Context, c Caller, out any, method string, params ...any) error {
	resp, err := c.Send(ctx, method, params...)
	if err != nil {
		return err
	}
	return decode(resp, out, method)
}

func decode(resp *jsonrpc.Response, out any, method string) error {
	if err := resp.Err(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Ping issues a keepalive round-trip.
func Ping(ctx context.Context, c Caller) error {
	return call(ctx, c, nil, MethodPing)
}

// Banner returns the server's free-form banner.
func Banner(ctx context.Context, c Caller) (string, error) {
	var s string
	err := call(ctx, c, &s, MethodBanner)
	return s, err
}

// Features describes a server.
type Features struct {
	GenesisHash   string         `json:"genesis_hash"`
	HashFunction  string         `json:"hash_function"`
	ServerVersion string         `json:"server_version"`
	ProtocolMin   string         `json:"protocol_min"`
	ProtocolMax   string         `json:"protocol_max"`
	Pruning       *int           `json:"pruning"`
	Hosts         map[string]any `json:"hosts,omitempty"`
}

// ServerFeatures returns the server's feature description.
func ServerFeatures(ctx context.Context, c Caller) (*Features, error) {
	var f Features
	if err := call(ctx, c, &f, MethodFeatures); err != nil {
		return nil, err
	}
	return &f, nil
}

// Header is a block header notification.
type Header struct {
	Height int    `json:"height"`
	Hex    string `json:"hex"`
}

// DecodeHeader reads a header from either the initial subscribe reply
// (result is the header) or a push (params is a one-element list).
func DecodeHeader(r jsonrpc.Response) (Header, error) {
	var h Header
	if r.IsPush() {
		var params []Header
		if err := json.Unmarshal(r.Params, &params); err != nil {
			return h, fmt.Errorf("decode header push: %w", err)
		}
		if len(params) == 0 {
			return h, fmt.Errorf("decode header push: empty params")
		}
		return params[0], nil
	}
	return h, decode(&r, &h, MethodHeadersSubscribe)
}

// SubscribeHeaders delivers the current tip and every new one to fn.
// Undecodable notifications go to onErr when set.
func SubscribeHeaders(s Subscriber, fn func(Header), onErr func(error)) error {
	return s.Subscribe(subscription.Subscription{
		Method: MethodHeadersSubscribe,
		Callback: func(r jsonrpc.Response) {
			h, err := DecodeHeader(r)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				return
			}
			fn(h)
		},
	})
}

// BlockHeader returns the raw header at height as hex.
func BlockHeader(ctx context.Context, c Caller, height int) (string, error) {
	var s string
	err := call(ctx, c, &s, MethodBlockHeader, height)
	return s, err
}

// TransactionGet returns a raw transaction as hex.
func TransactionGet(ctx context.Context, c Caller, txid string) (string, error) {
	var s string
	err := call(ctx, c, &s, MethodTransactionGet, txid)
	return s, err
}

// Broadcast submits a raw transaction and returns its txid.
func Broadcast(ctx context.Context, c Caller, rawTx string) (string, error) {
	var s string
	err := call(ctx, c, &s, MethodTransactionBroadcast, rawTx)
	return s, err
}

// Balance is a script hash balance in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// GetBalance returns the balance of a script hash.
func GetBalance(ctx context.Context, c Caller, scriptHash string) (Balance, error) {
	var b Balance
	err := call(ctx, c, &b, MethodGetBalance, scriptHash)
	return b, err
}

// HistoryItem is one transaction touching a script hash. Height is 0 or
// negative for mempool entries.
type HistoryItem struct {
	Height int    `json:"height"`
	TxHash string `json:"tx_hash"`
	Fee    *int64 `json:"fee,omitempty"`
}

// GetHistory returns the confirmed and mempool history of a script hash.
func GetHistory(ctx context.Context, c Caller, scriptHash string) ([]HistoryItem, error) {
	var items []HistoryItem
	err := call(ctx, c, &items, MethodGetHistory, scriptHash)
	return items, err
}

// EstimateFee returns the fee rate in coin units per kilobyte for
// confirmation within blocks. The server answers -1 when it has no estimate.
func EstimateFee(ctx context.Context, c Caller, blocks int) (float64, error) {
	var fee float64
	err := call(ctx, c, &fee, MethodEstimateFee, blocks)
	return fee, err
}

// ScriptHash converts an output script to the protocol's script hash: the
// SHA-256 digest, byte-reversed, hex encoded.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	b := sum[:]
	slices.Reverse(b)
	return hex.EncodeToString(b)
}

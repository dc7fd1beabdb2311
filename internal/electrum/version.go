package electrum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-version"
)

// ServerInfo is the reply to server.version.
type ServerInfo struct {
	Software string `json:"software"`
	Protocol string `json:"protocol"`
}

// ServerVersion negotiates with the server on a fresh request. The client
// already announces itself on every connection; this is for callers that
// want the server's answer.
func ServerVersion(ctx context.Context, c Caller, clientName, protocol string) (ServerInfo, error) {
	var pair []string
	if err := call(ctx, c, &pair, MethodServerVersion, clientName, protocol); err != nil {
		return ServerInfo{}, err
	}
	return parseServerInfo(pair)
}

// ParseServerInfo decodes a raw server.version result.
func ParseServerInfo(raw json.RawMessage) (ServerInfo, error) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return ServerInfo{}, fmt.Errorf("server.version: decode result: %w", err)
	}
	return parseServerInfo(pair)
}

func parseServerInfo(pair []string) (ServerInfo, error) {
	if len(pair) != 2 {
		return ServerInfo{}, fmt.Errorf("server.version: want [software, protocol], got %d elements", len(pair))
	}
	return ServerInfo{Software: pair[0], Protocol: pair[1]}, nil
}

// CheckProtocol returns an error wrapping ErrUnsupportedVersion when got is
// older than minimum. Both are dotted versions such as "1.4" or "1.4.2".
func CheckProtocol(minimum, got string) error {
	floor, err := version.NewVersion(minimum)
	if err != nil {
		return fmt.Errorf("parse minimum protocol %q: %w", minimum, err)
	}
	v, err := version.NewVersion(got)
	if err != nil {
		return fmt.Errorf("parse server protocol %q: %w", got, err)
	}
	if v.LessThan(floor) {
		return fmt.Errorf("%w: server speaks %s, need %s", ErrUnsupportedVersion, got, minimum)
	}
	return nil
}

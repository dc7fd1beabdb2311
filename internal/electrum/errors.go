package electrum

import "errors"

// ErrUnsupportedVersion is returned when a server speaks a protocol older
// than the client's minimum.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrEmptyPool is returned when a pool would be left without endpoints.
var ErrEmptyPool = errors.New("endpoint pool must not be empty")

// Endpoint is a host:port pair serving the indexing protocol.
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Address returns the dialable "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

// Validate reports whether the endpoint can be dialed at all.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint %s: port %d out of range", e.Host, e.Port)
	}
	return nil
}

// Parse reads a "host:port" string.
func Parse(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: bad port: %w", s, err)
	}
	e := Endpoint{Host: host, Port: port}
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// Equal reports whether two lists hold the same endpoints in the same order.
func Equal(a, b []Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

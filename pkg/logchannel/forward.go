package logchannel

import (
	"net"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

const (
	// Addresses used when forwarding is requested without an explicit target
	DefaultForwardSocket  = "/tmp/eagine-xmllog"
	DefaultForwardAddress = "localhost:34917"

	forwardDialTimeout = 5 * time.Second
)

// Forward describes the downstream consumer that receives a copy of every
// connection's raw traffic
type Forward struct {
	Network string
	Address string
}

// LocalForward returns a Unix socket forward; "-" selects the default path
func LocalForward(path string) *Forward {
	if path == "" || path == "-" {
		path = DefaultForwardSocket
	}
	return &Forward{Network: "unix", Address: path}
}

// NetworkForward returns a TCP forward; "-" selects the default address
func NetworkForward(address string) *Forward {
	if address == "" || address == "-" {
		address = DefaultForwardAddress
	}
	return &Forward{Network: "tcp", Address: address}
}

func (f *Forward) dial() (net.Conn, error) {
	conn, err := net.DialTimeout(f.Network, f.Address, forwardDialTimeout)
	if err != nil {
		return nil, errors.NewNetworkError("failed to connect log forward target", err).
			WithContext("network", f.Network).
			WithContext("address", f.Address)
	}
	return conn, nil
}

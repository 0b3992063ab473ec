// Package nvimbridge defines the session identity, addressing and event types
// shared by the front-end bridge to a headless NvimServer backend.
//
// The bridge and backend talk over two Unix domain sockets per session: the
// front-end listens on the inbound address and the backend listens on the
// outbound address. Both are derived from the session id.
package nvimbridge

import (
	"path/filepath"

	"github.com/google/uuid"
)

// ListenAddressEnv is the environment variable carrying the backend's own
// listen address for plugins and remote clients.
const ListenAddressEnv = "NVIM_LISTEN_ADDRESS"

// SessionID identifies one front-end/backend pairing.
type SessionID string

// NewSessionID returns a random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// AddressPrefix returns the socket path prefix inside runtimeDir.
func AddressPrefix(runtimeDir string) string {
	return filepath.Join(runtimeDir, "nvimbridge")
}

// InboundAddress returns the address the front-end listens on (backend → front-end).
func InboundAddress(prefix string, id SessionID) string {
	return prefix + "." + string(id)
}

// OutboundAddress returns the address the backend listens on (front-end → backend).
func OutboundAddress(prefix string, id SessionID) string {
	return prefix + ".engine." + string(id)
}

// ListenAddress returns the value of ListenAddressEnv for a session.
func ListenAddress(runtimeDir string, id SessionID) string {
	return filepath.Join(runtimeDir, "nvimbridge_"+string(id)+".sock")
}

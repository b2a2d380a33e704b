// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes. Admission failures never reach these: a bad
// credential is refused with HTTP 401 before the upgrade.
const (
	BadSubprotocolError  = 3000 // Client offered subprotocols but not ours.
	SessionReplacedError = 3001 // The same user opened a newer connection.
	ServerShutdownError  = 3002 // The process is draining connections.
)

// Subprotocol is negotiated when the client offers it. Clients may also
// connect without any subprotocol.
const Subprotocol = "voicebattle"

// Command devserver runs the in-memory development endpoint and plays the
// phone side of pairing.
//
//	devserver serve [--addr :8080] [--ref-ttl 20s] [--max-refs 5] [--challenge]
//	    Listen for websocket clients on /ws, scans on /scan and metrics on
//	    /metrics.
//
//	devserver scan --server http://127.0.0.1:8080 <qr-payload>
//	    Submit a QR payload printed by `wasock connect`.
//
// Point a client at it with `endpoint = "ws://127.0.0.1:8080/ws"` in the
// wasock config file.
package main

// Package devserver is an in-memory stand-in for the web endpoint, used during
// development and tests. It speaks the tagged text protocol over a websocket
// and lets a simulated phone scan pairing QR codes over plain HTTP.
//
// HTTP API
//
//	GET /ws
//	    Websocket endpoint. Handles admin init, Conn reref, login and
//	    challenge commands, answers liveness probes and acknowledges
//	    encrypted binary nodes once a session has keys.
//
//	POST /scan
//	    Body is a QR payload "ref,publicKey,clientId". The connection that
//	    currently holds ref receives a Conn push carrying a sealed secret
//	    and fresh tokens.
//
//	GET /metrics
//	    Prometheus metrics of the process.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Accounts created by a scan survive reconnects, so a later login with
//     their tokens restores the session.
//   - A lightweight access log records method, path, remote, status, bytes and
//     duration for each HTTP request.
package devserver

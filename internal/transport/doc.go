// Package transport owns one duplex websocket connection and turns it into
// independently awaitable request/reply pairs plus a routed stream of pushes.
//
// Every frame is "tag,payload". Outbound requests register a pending entry
// under their tag before the write; an inbound frame whose tag is pending
// resolves that entry. Any other frame is classified by the shape of its tag
// and handed to the Handler. Per-frame failures (decrypt, decode, parse) are
// logged and dropped and never end the read loop.
//
// The Transport also owns the liveness watchdog. The watchdog stays idle until
// ArmWatchdog and is disarmed when the connection closes.
package transport

package domain

import (
	interfaces "wasock/internal/domain/interfaces"
	types "wasock/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	ClientID      = types.ClientID
	Fingerprint   = types.Fingerprint
	ServerRef     = types.ServerRef
	X25519Public  = types.X25519Public
	X25519Private = types.X25519Private
	KeyPair       = types.KeyPair
	Tokens        = types.Tokens
	SessionConfig = types.SessionConfig
	ConnInfo      = types.ConnInfo
)

// ParseConnInfo decodes a Conn push payload.
var ParseConnInfo = types.ParseConnInfo

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	FrameCipher     = interfaces.FrameCipher
	NodeCodec       = interfaces.NodeCodec
	SessionStore    = interfaces.SessionStore
	ConnStore       = interfaces.ConnStore
)

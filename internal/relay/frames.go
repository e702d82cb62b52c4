package relay

import "nostr-lists/internal/types"

// NIP-01 message labels
const (
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelEvent  = "EVENT"
	LabelEOSE   = "EOSE"
	LabelOK     = "OK"
	LabelNotice = "NOTICE"
	LabelClosed = "CLOSED"
	LabelAuth   = "AUTH"
)

// ReqFrame builds ["REQ", id, filter]
func ReqFrame(id string, filter types.Filter) types.NostrMessage {
	return types.NostrMessage{LabelReq, id, filter}
}

// CloseFrame builds ["CLOSE", id]
func CloseFrame(id string) types.NostrMessage {
	return types.NostrMessage{LabelClose, id}
}

// EventFrame builds ["EVENT", event]
func EventFrame(evt *types.Event) types.NostrMessage {
	return types.NostrMessage{LabelEvent, evt}
}

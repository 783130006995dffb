package models

// Streaming protocol message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgTrade       = "trade"
	MsgAck         = "ack"
	MsgError       = "error"
	MsgPing        = "ping"
)

// ClientMessage is what a streaming subscriber sends: one symbol per message.
type ClientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// ServerMessage is what the gateway pushes back. Trade frames carry a batch of
// ticks; ack and error frames carry the symbol and a human-readable message.
type ServerMessage struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message,omitempty"`
	Data    []Tick `json:"data,omitempty"`
}

// Package chat defines the chat message model, its JSON wire codec, and the
// size policy advertised to clients.
package chat

// Message is a single chat line as exchanged with clients and stored in the log.
type Message struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// SystemName is the sender used for messages the relay synthesizes itself.
const SystemName = "Server"

// systemDate matches the marker the client page shows for unparseable frames.
const systemDate = "!!"

// SystemMessage wraps text the relay could not treat as a chat message into a
// visible server-originated entry.
func SystemMessage(text string) Message {
	return Message{Date: systemDate, Name: SystemName, Text: text}
}

// IsSystem reports whether m was synthesized by the relay.
func (m Message) IsSystem() bool {
	return m.Date == systemDate && m.Name == SystemName
}

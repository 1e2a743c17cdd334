package events

// ClientMessage is a control message sent by a websocket client.
type ClientMessage struct {
	Action  string `json:"action"`
	Group   string `json:"group,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// chatGroup namespaces chat subscriptions inside the group registry.
func chatGroup(chatID string) string {
	return "chat:" + chatID
}

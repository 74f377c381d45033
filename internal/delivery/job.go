package delivery

// SendJob is the durable-queue payload for one outbound text message.
type SendJob struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

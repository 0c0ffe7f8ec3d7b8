package connection

import "github.com/cozy/realtime.go/pkg/models"

// Method is the verb of an outbound realtime command.
type Method string

const (
	MethodAuth        Method = "AUTH"
	MethodSubscribe   Method = "SUBSCRIBE"
	MethodUnsubscribe Method = "UNSUBSCRIBE"
)

// Command is an outbound realtime frame.
type Command struct {
	Method  Method `json:"method"`
	Payload any    `json:"payload"`
}

// TargetPayload is the payload of SUBSCRIBE and UNSUBSCRIBE.
type TargetPayload struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

func AuthCommand(token string) Command {
	return Command{Method: MethodAuth, Payload: token}
}

func SubscribeCommand(target models.Target) Command {
	return Command{Method: MethodSubscribe, Payload: targetPayload(target)}
}

func UnsubscribeCommand(target models.Target) Command {
	return Command{Method: MethodUnsubscribe, Payload: targetPayload(target)}
}

func targetPayload(target models.Target) TargetPayload {
	p := TargetPayload{Type: target.Doctype}
	if target.HasID() {
		p.ID = target.ID
	}
	return p
}

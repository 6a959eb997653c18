package multisig

// Event types emitted towards the presentation layer. Delivery is
// fire-and-forget; emitters must never block state transitions.
const (
	EventAccountProposed  = "multisig.account.proposed"
	EventAccountConfirmed = "multisig.account.confirmed"
	EventAccountCancelled = "multisig.account.cancelled"
	EventQueueCreated     = "multisig.queue.created"
	EventQueueSigned      = "multisig.queue.signed"
	EventQueueExecuted    = "multisig.queue.executed"
	EventQueueResolved    = "multisig.queue.resolved"
	EventQueueFailed      = "multisig.queue.failed"
)

// Event is a user-facing notification of a state transition.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter delivers events to a presentation layer or metrics sink.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to several sinks.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

func accountEvent(typ string, acct *Account) Event {
	attrs := map[string]string{
		"accountId": acct.ID,
		"chainCode": acct.ChainCode,
		"address":   acct.Address,
		"status":    acct.Status.String(),
	}
	return Event{Type: typ, Attributes: attrs}
}

func queueEvent(typ string, q *Queue) Event {
	attrs := map[string]string{
		"queueId":   q.ID,
		"accountId": q.AccountID,
		"chainCode": q.ChainCode,
		"status":    q.Status.String(),
	}
	if q.TxHash != "" {
		attrs["txHash"] = q.TxHash
	}
	if q.FailReason != FailReasonNone {
		attrs["failReason"] = q.FailReason
	}
	return Event{Type: typ, Attributes: attrs}
}

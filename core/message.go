package core

// MessageKind tags what a Message asks of the consumer receiving it.
type MessageKind uint8

const (
	// MessageNormal is buffered into the current batch.
	MessageNormal MessageKind = iota
	// MessageForceBatch is buffered, then the batch is flushed immediately.
	MessageForceBatch
	// MessagePoisonPill carries no payload and retires the receiving worker.
	MessagePoisonPill
)

func (k MessageKind) String() string {
	switch k {
	case MessageNormal:
		return "normal"
	case MessageForceBatch:
		return "force-batch"
	case MessagePoisonPill:
		return "poison-pill"
	default:
		return "unknown"
	}
}

// Message is the unit of work flowing from the dispatcher to a consumer.
// Messages are values and are never mutated after creation.
//
// PartitionKey and Payload stay in process: the payload is owned by the
// producer/consumer pair and only ID and Kind cross a process boundary.
type Message struct {
	ID           string
	Kind         MessageKind
	PartitionKey string
	Payload      any
}

// NewMessage creates a normal message.
func NewMessage(id, partitionKey string, payload any) (Message, error) {
	if id == "" {
		return Message{}, ErrEmptyMessageID
	}
	return Message{ID: id, Kind: MessageNormal, PartitionKey: partitionKey, Payload: payload}, nil
}

// NewForceBatchMessage creates a message that flushes the batch it lands in.
func NewForceBatchMessage(id, partitionKey string, payload any) (Message, error) {
	if id == "" {
		return Message{}, ErrEmptyMessageID
	}
	return Message{ID: id, Kind: MessageForceBatch, PartitionKey: partitionKey, Payload: payload}, nil
}

// NewPoisonPill creates the termination marker.
func NewPoisonPill() Message {
	return Message{Kind: MessagePoisonPill}
}

// ForceBatch reports whether the batch must be flushed right after this message.
func (m Message) ForceBatch() bool {
	return m.Kind == MessageForceBatch
}

// PoisonPill reports whether the message retires its worker.
func (m Message) PoisonPill() bool {
	return m.Kind == MessagePoisonPill
}

// Same reports whether two messages identify the same unit of work.
func (m Message) Same(other Message) bool {
	return m.ID == other.ID
}

package types

// TypeTag identifies the kind of a shared type. The numeric values are the
// type references used on the wire.
type TypeTag uint8

const (
	TagArray       TypeTag = 0
	TagMap         TypeTag = 1
	TagText        TypeTag = 2
	TagXmlElement  TypeTag = 3
	TagXmlFragment TypeTag = 4
	TagXmlHook     TypeTag = 5
	TagXmlText     TypeTag = 6

	// TagUndefined marks a root created by a remote update before any local
	// accessor fixed its type.
	TagUndefined TypeTag = 0xff
)

// DeltaOp is one run of a change description. Exactly one of Insert,
// Retain and Delete is set.
//
//	{"insert": "abc", "attributes": {"bold": true}}
//	{"retain": 4}
//	{"delete": 2}
type DeltaOp struct {
	// Insert is a string for text runs, []any for sequence runs, or a single
	// embedded value / shared type.
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is an ordered, run-length encoded change description.
type Delta []DeltaOp

// ChangeAction names the kind of change applied to a key.
type ChangeAction string

const (
	ActionAdd    ChangeAction = "add"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// EntryChange describes the change of a single map key or attribute.
type EntryChange struct {
	Action   ChangeAction `json:"action"`
	OldValue any          `json:"oldValue,omitempty"`
	NewValue any          `json:"newValue,omitempty"`
}

// PathSegment is either a string key or an int index.
type PathSegment any

// -----------------------------------------------------------------------------
// Sync messages

// Message is a sync protocol message.
type Message interface {
	NewEmpty() Message
	Name() string
	String() string
}

// SyncStep1Message carries the encoded state vector of the sender.
//
// - implements types.Message
type SyncStep1Message struct {
	StateVector []byte
}

// SyncStep2Message carries the diff computed against a SyncStep1 state
// vector.
//
// - implements types.Message
type SyncStep2Message struct {
	Update []byte
}

// UpdateMessage carries an incremental update.
//
// - implements types.Message
type UpdateMessage struct {
	Update []byte
}

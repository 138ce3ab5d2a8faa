package types

import (
	"fmt"
	"strings"
)

var tagNames = map[TypeTag]string{
	TagArray:       "array",
	TagMap:         "map",
	TagText:        "text",
	TagXmlElement:  "xml-element",
	TagXmlFragment: "xml-fragment",
	TagXmlHook:     "xml-hook",
	TagXmlText:     "xml-text",
	TagUndefined:   "undefined",
}

func (t TypeTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Valid reports whether t is a known wire type reference.
func (t TypeTag) Valid() bool {
	return t <= TagXmlText
}

// -----------------------------------------------------------------------------
// Delta

// String renders the delta in a compact form, e.g. [retain:1 delete:2].
func (d Delta) String() string {
	parts := make([]string, len(d))
	for i, op := range d {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (op DeltaOp) String() string {
	var s string
	switch {
	case op.Insert != nil:
		s = fmt.Sprintf("insert:%v", op.Insert)
	case op.Delete > 0:
		s = fmt.Sprintf("delete:%d", op.Delete)
	default:
		s = fmt.Sprintf("retain:%d", op.Retain)
	}
	if len(op.Attributes) > 0 {
		s += fmt.Sprintf("%v", op.Attributes)
	}
	return s
}

// -----------------------------------------------------------------------------
// SyncStep1Message

// NewEmpty implements types.Message.
func (m SyncStep1Message) NewEmpty() Message {
	return &SyncStep1Message{}
}

// Name implements types.Message.
func (m SyncStep1Message) Name() string {
	return "syncstep1"
}

// String implements types.Message.
func (m SyncStep1Message) String() string {
	return fmt.Sprintf("syncstep1{%d bytes}", len(m.StateVector))
}

// -----------------------------------------------------------------------------
// SyncStep2Message

// NewEmpty implements types.Message.
func (m SyncStep2Message) NewEmpty() Message {
	return &SyncStep2Message{}
}

// Name implements types.Message.
func (m SyncStep2Message) Name() string {
	return "syncstep2"
}

// String implements types.Message.
func (m SyncStep2Message) String() string {
	return fmt.Sprintf("syncstep2{%d bytes}", len(m.Update))
}

// -----------------------------------------------------------------------------
// UpdateMessage

// NewEmpty implements types.Message.
func (m UpdateMessage) NewEmpty() Message {
	return &UpdateMessage{}
}

// Name implements types.Message.
func (m UpdateMessage) Name() string {
	return "update"
}

// String implements types.Message.
func (m UpdateMessage) String() string {
	return fmt.Sprintf("update{%d bytes}", len(m.Update))
}

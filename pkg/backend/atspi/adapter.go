package atspi

import (
	"context"
	"slices"

	"github.com/Coldaine/coldvox/pkg/backend"
	"github.com/Coldaine/coldvox/pkg/types"
)

// Adapter implements backend.Backend by inserting text at the caret of the
// focused editable object over the accessibility bus. This is the preferred
// injection method: no clipboard involvement, no synthetic input, and the
// target application sees a normal programmatic edit.
type Adapter struct {
	conn *Conn
}

// Compile-time assertion that Adapter satisfies the backend contract.
var _ backend.Backend = (*Adapter)(nil)

// NewAdapter creates the direct-insert adapter over an established bus
// connection. conn may be nil when the bus was unreachable at startup; the
// adapter then reports unavailable.
func NewAdapter(conn *Conn) *Adapter {
	return &Adapter{conn: conn}
}

// Method returns types.MethodAtspiInsert.
func (a *Adapter) Method() types.Method { return types.MethodAtspiInsert }

// IsAvailable reports whether the bus is connected and some object has taken
// focus since startup.
func (a *Adapter) IsAvailable(context.Context) bool {
	return a.conn != nil && !a.conn.Focused().Zero()
}

// InjectText inserts text at the caret of the focused object. Fails with a
// not-available kind when there is no bus, no focused object, or the focused
// object does not expose the editable-text capability.
func (a *Adapter) InjectText(ctx context.Context, text string) error {
	if a.conn == nil {
		return backend.NewError(backend.KindNotAvailable, "accessibility bus not connected")
	}

	ref := a.conn.Focused()
	if ref.Zero() {
		return backend.NewError(backend.KindNotAvailable, "no focused accessible object")
	}

	ifaces, err := a.conn.interfaces(ctx, ref)
	if err != nil {
		return backend.WrapError(backend.KindOther, "query focused object", err)
	}
	if !slices.Contains(ifaces, ifaceEditableText) {
		return backend.NewError(backend.KindNotAvailable, "focused object is not editable text")
	}

	caret, err := a.conn.caretOffset(ctx, ref)
	if err != nil {
		// Objects that expose EditableText but not Text insert at position 0.
		caret = 0
	}

	var ok bool
	err = a.conn.Object(ref).CallWithContext(ctx, ifaceEditableText+".InsertText", 0,
		caret, text, int32(len([]rune(text)))).Store(&ok)
	if err != nil {
		return backend.WrapError(backend.KindOther, "insert text", err)
	}
	if !ok {
		return backend.NewError(backend.KindOther, "target refused insertion")
	}
	return nil
}

// FocusQuery answers the focus provider's question: what kind of control is
// focused and which application owns it. Returns FocusUnknown (never an
// error surfaced to injection) when the bus cannot answer.
func (a *Adapter) FocusQuery(ctx context.Context) (types.FocusStatus, error) {
	if a.conn == nil {
		return types.FocusStatus{Kind: types.FocusUnknown}, nil
	}
	ref := a.conn.Focused()
	if ref.Zero() {
		return types.FocusStatus{Kind: types.FocusUnknown}, nil
	}

	status := types.FocusStatus{Kind: types.FocusNonEditable}
	if ifaces, err := a.conn.interfaces(ctx, ref); err == nil {
		if slices.Contains(ifaces, ifaceEditableText) {
			status.Kind = types.FocusEditableText
		}
	} else {
		status.Kind = types.FocusUnknown
	}

	if class, err := a.conn.appClass(ctx, ref); err == nil {
		status.AppClass = class
	}
	return status, nil
}

// ReadFocusedText reads up to the last limit characters of the focused
// object's text. The confirmation probe polls this to observe an insertion.
func (a *Adapter) ReadFocusedText(ctx context.Context, limit int32) (string, error) {
	if a.conn == nil {
		return "", backend.NewError(backend.KindNotAvailable, "accessibility bus not connected")
	}
	ref := a.conn.Focused()
	if ref.Zero() {
		return "", backend.NewError(backend.KindNotAvailable, "no focused accessible object")
	}

	var count int32
	if err := a.conn.getProperty(ctx, ref, ifaceText, "CharacterCount", &count); err != nil {
		return "", backend.WrapError(backend.KindOther, "character count", err)
	}
	start := count - limit
	if start < 0 {
		start = 0
	}
	return a.conn.readText(ctx, ref, start, count)
}

package transformer

import (
	"fmt"

	"github.com/maxpert/catalogbridge/catalog"
	"github.com/maxpert/catalogbridge/encoding"
	"github.com/maxpert/catalogbridge/publisher"
)

// MsgpackTransformer encodes entries with the same keys as JSONTransformer
// in MessagePack, for consumers that prefer a compact binary format.
type MsgpackTransformer struct{}

// NewMsgpackTransformer creates a new MessagePack transformer
func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

// Transform converts a catalog entry to a MessagePack event
func (t *MsgpackTransformer) Transform(entry catalog.Entry) (publisher.Event, error) {
	rec, err := newGameRecord(entry)
	if err != nil {
		return publisher.Event{}, err
	}

	payload, err := encoding.Marshal(rec)
	if err != nil {
		return publisher.Event{}, fmt.Errorf("failed to encode entry %d: %w", rec.ID, err)
	}

	return publisher.Event{
		Key:      eventKey(rec.ID),
		Payload:  payload,
		Mimetype: MimetypeMsgpack,
	}, nil
}

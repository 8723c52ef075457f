// Package transformer provides implementations of the publisher.Transformer
// interface for turning catalog entries into broker events.
package transformer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maxpert/catalogbridge/catalog"
	"github.com/maxpert/catalogbridge/publisher"
)

const (
	MimetypeJSON    = "application/json"
	MimetypeMsgpack = "application/msgpack"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
}

// gameRecord is the wire shape of a catalog event: {"id": 10, "game": "Counter-Strike"}
type gameRecord struct {
	ID   int64  `json:"id" msgpack:"id"`
	Game string `json:"game" msgpack:"game"`
}

func newGameRecord(entry catalog.Entry) (gameRecord, error) {
	if !entry.Complete() {
		return gameRecord{}, fmt.Errorf("catalog entry is missing appid or name")
	}
	return gameRecord{ID: entry.ID(), Game: entry.Title()}, nil
}

func eventKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// JSONTransformer encodes each entry as a JSON object keyed by app id
type JSONTransformer struct{}

// NewJSONTransformer creates a new JSON transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Transform converts a catalog entry to a JSON event
func (t *JSONTransformer) Transform(entry catalog.Entry) (publisher.Event, error) {
	rec, err := newGameRecord(entry)
	if err != nil {
		return publisher.Event{}, err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return publisher.Event{}, fmt.Errorf("failed to marshal entry %d: %w", rec.ID, err)
	}

	return publisher.Event{
		Key:      eventKey(rec.ID),
		Payload:  payload,
		Mimetype: MimetypeJSON,
	}, nil
}

// Package encoding provides the msgpack codec shared by checkpoint records
// and msgpack-formatted catalog events.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Marshal encodes a value to msgpack format. Integers are written in their
// smallest representation so app ids stay compact on the wire.
func Marshal(v any) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	enc := msgpack.NewEncoder(buf)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Copy out: buf is reused by the pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data. When decoding into interface{}, strings
// stay Go strings rather than []byte.
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// Package transformer encodes event records for sinks.
package transformer

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/maxpert/binlogstream/encoding"
	"github.com/maxpert/binlogstream/publisher"
)

// RecordSchema names the layout of the JSON envelope
const RecordSchema = "binlogstream.record.v1"

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer { return JSONTransformer{} })
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer { return MsgpackTransformer{} })
}

// Envelope is the JSON message body
type Envelope struct {
	Schema  string                `json:"schema"`
	Payload publisher.EventRecord `json:"payload"`
}

type JSONTransformer struct{}

func (JSONTransformer) Transform(rec publisher.EventRecord) ([]byte, error) {
	b, err := json.Marshal(Envelope{Schema: RecordSchema, Payload: rec})
	if err != nil {
		return nil, fmt.Errorf("encode record %d as json: %w", rec.SeqNum, err)
	}
	return b, nil
}

func (JSONTransformer) ContentType() string { return "application/json" }

// MsgpackTransformer emits the record as stored in the publish log
type MsgpackTransformer struct{}

func (MsgpackTransformer) Transform(rec publisher.EventRecord) ([]byte, error) {
	b, err := encoding.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %d as msgpack: %w", rec.SeqNum, err)
	}
	return b, nil
}

func (MsgpackTransformer) ContentType() string { return "application/msgpack" }

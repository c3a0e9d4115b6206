package snapshotstore

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/coachpo/wgg/internal/app/snapshot"
	"github.com/coachpo/wgg/internal/infra/config"
)

// Codec serialises snapshot documents for byte-oriented backends.
type Codec interface {
	Name() config.Codec
	Marshal(snap snapshot.Snapshot) ([]byte, error)
	Unmarshal(data []byte, snap *snapshot.Snapshot) error
}

// NewCodec returns the codec registered under name.
func NewCodec(name config.Codec) (Codec, error) {
	switch name {
	case config.CodecJSON, "":
		return jsonCodec{}, nil
	case config.CodecMsgpack:
		return msgpackCodec{}, nil
	case config.CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("snapshot codec %q unsupported", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() config.Codec { return config.CodecJSON }

func (jsonCodec) Marshal(snap snapshot.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func (jsonCodec) Unmarshal(data []byte, snap *snapshot.Snapshot) error {
	return json.Unmarshal(data, snap)
}

// msgpackCodec reuses the json struct tags so every codec shares one field naming.
type msgpackCodec struct{}

func (msgpackCodec) Name() config.Codec { return config.CodecMsgpack }

func (msgpackCodec) Marshal(snap snapshot.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, snap *snapshot.Snapshot) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(snap)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (cborCodec, error) {
	opts := cbor.PreferredUnsortedEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return cborCodec{}, fmt.Errorf("cbor encode mode: %w", err)
	}
	dec, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return cborCodec{}, fmt.Errorf("cbor decode mode: %w", err)
	}
	return cborCodec{enc: enc, dec: dec}, nil
}

func (cborCodec) Name() config.Codec { return config.CodecCBOR }

func (c cborCodec) Marshal(snap snapshot.Snapshot) ([]byte, error) {
	return c.enc.Marshal(snap)
}

func (c cborCodec) Unmarshal(data []byte, snap *snapshot.Snapshot) error {
	return c.dec.Unmarshal(data, snap)
}

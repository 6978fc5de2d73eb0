package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"google.golang.org/protobuf/proto"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Codec encodes response bodies and decodes request bodies.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
	ContentType() string
}

var (
	jsonCodec     Codec = JSONCodec{}
	protobufCodec Codec = ProtobufCodec{}
)

// CodecFor returns a codec by name ("json" or "protobuf").
func CodecFor(name string) (Codec, error) {
	switch name {
	case "json":
		return jsonCodec, nil
	case "protobuf", "proto":
		return protobufCodec, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, name)
	}
}

// CodecForContentType maps a Content-Type to a codec, defaulting to JSON.
func CodecForContentType(contentType string) Codec {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return jsonCodec
	}
	if isProtobufType(mt) {
		return protobufCodec
	}
	return jsonCodec
}

// CodecForAccept picks the first acceptable codec from an Accept header.
func CodecForAccept(accept string) Codec {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if isProtobufType(mt) {
			return protobufCodec
		}
		if mt == MIMEApplicationJSON {
			return jsonCodec
		}
	}
	return jsonCodec
}

func isProtobufType(mt string) bool {
	return mt == MIMEApplicationProtobuf || mt == "application/protobuf"
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) ContentType() string { return MIMEApplicationJSON }

// ProtobufCodec implements Protocol Buffers encoding/decoding
type ProtobufCodec struct{}

func (ProtobufCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
	return proto.Marshal(msg)
}

func (ProtobufCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}

func (ProtobufCodec) Name() string        { return "protobuf" }
func (ProtobufCodec) ContentType() string { return MIMEApplicationProtobuf }

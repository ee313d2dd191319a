// Package rpc defines the gogo/protobuf message shapes and the grpc
// codec that wires them onto google.golang.org/grpc, grounded on
// rpc/synchronizer.rs's prost-based Synchronizer client.
package rpc

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc/encoding"
)

// Name is the registered grpc content-subtype for this codec.
const Name = "gogoproto"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("rpc: %T does not implement proto.Message", v)
	}

	return proto.Marshal(m)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("rpc: %T does not implement proto.Message", v)
	}

	return proto.Unmarshal(data, m)
}

func (codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(codec{})
}

package rpc

import "encoding/json"

// Codec marshals and unmarshals request/response payloads. Payload
// serialization is an explicitly out-of-scope collaborator (§1); Codec is
// the seam a caller swaps to use something other than the default.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// jsonCodec is the default Codec. encoding/json is used here deliberately:
// unlike the pack's protobuf/gogo-proto dependencies, which require payload
// types to implement proto.Message, Request and Respond are generic over
// any Go type, so the default codec cannot demand a concrete wire interface
// from the caller's type. See DESIGN.md.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Package serializer 缓存值的编解码。
//
// 两种实现共用 json struct tag，切换序列化器不需要给类型额外打 msgpack tag。
package serializer

import (
	"bytes"
	"encoding/json"

	"github.com/ceyewan/bulwark/xerrors"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnsupported 未知的序列化器名称
var ErrUnsupported = xerrors.New("serializer: unsupported type")

// Serializer 编解码接口
type Serializer interface {
	Name() string
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, dest any) error
}

// New 按名称创建序列化器："json"（默认）或 "msgpack"
func New(name string) (Serializer, error) {
	switch name {
	case "json", "":
		return jsonSerializer{}, nil
	case "msgpack":
		return msgpackSerializer{}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnsupported, "%q", name)
	}
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string { return "json" }

func (jsonSerializer) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonSerializer) Unmarshal(data []byte, dest any) error {
	return json.Unmarshal(data, dest)
}

type msgpackSerializer struct{}

func (msgpackSerializer) Name() string { return "msgpack" }

func (msgpackSerializer) Marshal(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackSerializer) Unmarshal(data []byte, dest any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(dest)
}

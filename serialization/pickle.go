package serialization

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/BaSui01/pipeflow/types"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(types.Tuple{})
	gob.Register(types.JSON(""))
}

// RegisterPicklable makes a concrete Go type encodable by the pickle codec.
// Values of unregistered types fail to serialize.
func RegisterPicklable(v any) {
	gob.Register(v)
}

type pickleEnvelope struct {
	Value any
}

func encodePickle(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&pickleEnvelope{Value: v}); err != nil {
		return nil, types.Errorf(types.ErrUserFatal, "value of type %T cannot be pickled", v).
			WithCause(err).
			WithTip("Register the type with serialization.RegisterPicklable or return a value with a narrower artifact type.")
	}
	return buf.Bytes(), nil
}

func decodePickle(data []byte) (any, error) {
	var env pickleEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to unpickle value: %w", err)
	}
	return env.Value, nil
}

package value

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var mapType = reflect.TypeOf(map[string]any(nil))

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: mapType,
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

// Encode serializes a value tree into CBOR.
func Encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

// Decode parses CBOR into a value tree of Dict, List and scalars.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}

// MustEncode is Encode for values known to be encodable; failures yield nil.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		return nil
	}
	return data
}

package fastcgi

import (
	"encoding/binary"
)

// Pair is one name-value entry in a Params, GetValues or GetValuesResult
// stream.
type Pair struct {
	Name  []byte
	Value []byte
}

const highBit = 1 << 31

// EncodePairs serializes pairs in order, using the shortest length encoding
// that fits each name and value (1 byte for lengths < 128, 4 bytes with the
// high bit set otherwise).
func EncodePairs(pairs []Pair) []byte {
	var out []byte
	for _, p := range pairs {
		out = appendLength(out, len(p.Name))
		out = appendLength(out, len(p.Value))
		out = append(out, p.Name...)
		out = append(out, p.Value...)
	}
	return out
}

func appendLength(b []byte, length int) []byte {
	if length < 0x80 {
		return append(b, byte(length))
	}
	var enc [4]byte
	binary.BigEndian.PutUint32(enc[:], uint32(length)|highBit)
	return append(b, enc[:]...)
}

// DecodePairs parses a full name-value pair stream into the mapping it
// represents: a name repeated later in the stream overwrites the earlier
// value, with the entry keeping its first position. It returns
// ErrTruncated if a length prefix or a name/value body runs past the end
// of data.
func DecodePairs(data []byte) ([]Pair, error) {
	var pairs []Pair
	index := make(map[string]int)
	for len(data) > 0 {
		nameLen, rest, err := readLength(data)
		if err != nil {
			return nil, err
		}
		data = rest

		valueLen, rest, err := readLength(data)
		if err != nil {
			return nil, err
		}
		data = rest

		if len(data) < nameLen+valueLen {
			return nil, wrap(ErrTruncated, "name-value pair body")
		}
		name := data[:nameLen]
		value := data[nameLen : nameLen+valueLen]
		data = data[nameLen+valueLen:]

		if i, ok := index[string(name)]; ok {
			pairs[i].Value = value
			continue
		}
		index[string(name)] = len(pairs)
		pairs = append(pairs, Pair{Name: name, Value: value})
	}
	return pairs, nil
}

// readLength decodes one length prefix, 1 byte below 128 or 4 bytes with
// the high bit set, and returns the remaining data.
func readLength(data []byte) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, wrap(ErrTruncated, "length prefix")
	}
	if data[0]&0x80 == 0 {
		return int(data[0]), data[1:], nil
	}
	if len(data) < 4 {
		return 0, nil, wrap(ErrTruncated, "4-byte length prefix")
	}
	length := binary.BigEndian.Uint32(data[0:4]) &^ highBit
	return int(length), data[4:], nil
}

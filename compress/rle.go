package compress

import "github.com/cockroachdb/errors"

// rleEncode run-length encodes data as (count, byte) pairs. count is 1..255.
// Worst case output is 2x the input; best case (long runs) approaches 1/128.
func rleEncode(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		b := data[i]
		run := 1
		for i+run < len(data) && data[i+run] == b && run < 255 {
			run++
		}
		out = append(out, byte(run), b)
		i += run
	}
	return out
}

// rleDecode reverses rleEncode. The encoding is a sequence of (count, byte)
// pairs, so any odd-length or zero-count input is malformed.
func rleDecode(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, errors.Wrap(ErrMalformedData, "rle: truncated pair")
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += 2 {
		count := int(data[i])
		if count == 0 {
			return nil, errors.Wrap(ErrMalformedData, "rle: zero-length run")
		}
		for j := 0; j < count; j++ {
			out = append(out, data[i+1])
		}
	}
	return out, nil
}

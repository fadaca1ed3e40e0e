package compress

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Round-trip law: for any JSON-serializable value and any registered
// algorithm, Decompress(Compress(v)) == v.
func TestRoundTripProperty(t *testing.T) {
	for _, alg := range []Algorithm{RLE, Deflate} {
		t.Run(string(alg), func(t *testing.T) {
			codec, err := New(WithAlgorithm(alg), WithThreshold(0))
			require.NoError(t, err)

			rapid.Check(t, func(t *rapid.T) {
				in := rapid.String().Draw(t, "value")
				blob, err := codec.Compress(in)
				if err != nil {
					t.Fatalf("compress: %v", err)
				}
				var out string
				if err := codec.Decompress(blob, &out); err != nil {
					t.Fatalf("decompress: %v", err)
				}
				if out != in {
					t.Fatalf("round trip mismatch: %q != %q", out, in)
				}
			})
		})
	}
}

func TestRoundTripPropertySlices(t *testing.T) {
	codec, err := New(WithAlgorithm(Deflate), WithThreshold(0))
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Int64()).Draw(t, "values")
		blob, err := codec.Compress(in)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		out := []int64{}
		if err := codec.Decompress(blob, &out); err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if len(out) != len(in) {
			t.Fatalf("length mismatch: %d != %d", len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("element %d mismatch: %d != %d", i, out[i], in[i])
			}
		}
	})
}

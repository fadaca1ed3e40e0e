package compress

import (
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidInput is returned when a nil value is given to Compress.
	ErrInvalidInput = errors.New("compress: invalid input")
	// ErrUnsupportedAlgorithm is returned when a blob names an algorithm that
	// is not registered with the codec.
	ErrUnsupportedAlgorithm = errors.New("compress: unsupported algorithm")
	// ErrMalformedData is returned when a blob's payload cannot be decoded
	// back into the original value.
	ErrMalformedData = errors.New("compress: malformed data")
)

// Algorithm identifies a compression scheme. The set is closed: every
// algorithm must satisfy Decompress(Compress(v)) == v.
type Algorithm string

const (
	// None means the payload is the raw JSON serialization.
	None Algorithm = "none"
	// RLE is a byte-oriented run-length codec. Always lossless, never
	// worse than 2x expansion, no dependencies.
	RLE Algorithm = "rle"
	// Deflate uses DEFLATE via github.com/klauspost/compress.
	Deflate Algorithm = "deflate"
)

// Blob is the storage form of a compressed value. Data holds raw JSON when
// Compressed is false, or the base64 encoding of the transformed bytes when
// Compressed is true.
type Blob struct {
	Compressed bool      `json:"compressed" msgpack:"compressed"`
	Algorithm  Algorithm `json:"algorithm" msgpack:"algorithm"`
	Data       string    `json:"data" msgpack:"data"`
}

// DefaultThreshold is the serialized size in bytes below which values are
// stored uncompressed. Small payloads rarely benefit from compression.
const DefaultThreshold = 128

// Codec compresses and decompresses JSON-serializable values.
type Codec struct {
	algorithm Algorithm
	threshold int
}

// Option configures a Codec.
type Option func(*Codec)

// WithAlgorithm selects the compression algorithm. Defaults to RLE.
func WithAlgorithm(a Algorithm) Option {
	return func(c *Codec) { c.algorithm = a }
}

// WithThreshold sets the minimum serialized size in bytes for compression to
// apply. Values below the threshold are stored as-is, which is transparent to
// Decompress. Defaults to DefaultThreshold.
func WithThreshold(n int) Option {
	return func(c *Codec) { c.threshold = n }
}

// New returns a Codec. It fails if the configured algorithm is unknown.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{
		algorithm: RLE,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch c.algorithm {
	case RLE, Deflate:
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", c.algorithm)
	}
	return c, nil
}

// Compress serializes v to JSON and, if the serialization is at least the
// configured threshold, compresses it with the configured algorithm. Nil
// values are rejected with ErrInvalidInput.
func (c *Codec) Compress(v any) (Blob, error) {
	if v == nil {
		return Blob{}, errors.Wrap(ErrInvalidInput, "cannot compress nil value")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Blob{}, errors.Wrap(ErrInvalidInput, err.Error())
	}
	if len(data) < c.threshold {
		return Blob{Compressed: false, Algorithm: None, Data: string(data)}, nil
	}

	var packed []byte
	switch c.algorithm {
	case RLE:
		packed = rleEncode(data)
	case Deflate:
		packed, err = deflateEncode(data)
		if err != nil {
			return Blob{}, err
		}
	}
	return Blob{
		Compressed: true,
		Algorithm:  c.algorithm,
		Data:       base64.StdEncoding.EncodeToString(packed),
	}, nil
}

// Decompress reverses Compress, decoding the blob's payload into out.
// out must be a non-nil pointer, as with json.Unmarshal.
func (c *Codec) Decompress(blob Blob, out any) error {
	data, err := c.payload(blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(ErrMalformedData, err.Error())
	}
	return nil
}

// payload recovers the raw JSON serialization from a blob.
func (c *Codec) payload(blob Blob) ([]byte, error) {
	if !blob.Compressed {
		return []byte(blob.Data), nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedData, err.Error())
	}
	switch blob.Algorithm {
	case RLE:
		return rleDecode(raw)
	case Deflate:
		return deflateDecode(raw)
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", blob.Algorithm)
	}
}

// Stats describes the effect of compression on a blob. Derived purely from
// the blob contents; a malformed blob yields an error.
type Stats struct {
	OriginalSize     int
	CompressedSize   int
	CompressionRatio float64
	SpaceSaved       int
}

// Stats reports size accounting for a blob. CompressionRatio is
// original/compressed; SpaceSaved can be negative when the transform expanded
// the payload (possible with RLE on incompressible input).
func (c *Codec) Stats(blob Blob) (Stats, error) {
	original, err := c.payload(blob)
	if err != nil {
		return Stats{}, err
	}
	stored := len(blob.Data)
	s := Stats{
		OriginalSize:   len(original),
		CompressedSize: stored,
		SpaceSaved:     len(original) - stored,
	}
	if stored > 0 {
		s.CompressionRatio = float64(s.OriginalSize) / float64(stored)
	}
	return s, nil
}

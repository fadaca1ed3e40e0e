package compress

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/flate"
)

func deflateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(err, "deflate: writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "deflate: write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "deflate: close")
	}
	return buf.Bytes(), nil
}

func deflateDecode(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedData, err.Error())
	}
	return out, nil
}

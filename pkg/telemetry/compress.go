package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding name of the zstd compressor.
const CompressorName = "zstd"

// MaxDecodedSize caps the decompressed size of one message. It equals the
// default gRPC receive limit.
const MaxDecodedSize = 4 << 20

// Batches are small and whole-message, so one shared encoder and decoder
// working on complete buffers is enough; no per-call goroutines are started.
var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("telemetry: zstd encoder initialization failed: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxDecodedSize),
		zstd.WithDecoderMaxWindow(MaxDecodedSize),
	)
	if err != nil {
		panic("telemetry: zstd decoder initialization failed: " + err.Error())
	}
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor implements encoding.Compressor.
type zstdCompressor struct{}

func (zstdCompressor) Name() string { return CompressorName }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return &zstdWriter{dst: w}, nil
}

// Decompress inflates one message. Frames declaring or producing more than
// MaxDecodedSize bytes fail with zstd.ErrDecoderSizeExceeded before the
// output is allocated.
func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if n := frameContentSize(src); n > MaxDecodedSize {
		return nil, fmt.Errorf("telemetry: zstd frame of %d bytes: %w", n, zstd.ErrDecoderSizeExceeded)
	}
	out, err := zstdDec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: zstd: %w", err)
	}
	return bytes.NewReader(out), nil
}

// DecompressedSize lets gRPC reject a message against its receive limit
// before decompressing it. It returns -1 when the frame does not declare its
// size.
func (zstdCompressor) DecompressedSize(src []byte) int {
	n := frameContentSize(src)
	if n < 0 || n > math.MaxInt32 {
		return -1
	}
	return int(n)
}

func frameContentSize(src []byte) int64 {
	var h zstd.Header
	if err := h.Decode(src); err != nil || !h.HasFCS {
		return -1
	}
	if h.FrameContentSize > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(h.FrameContentSize)
}

// zstdWriter buffers the message and compresses it in one piece on Close.
type zstdWriter struct {
	dst io.Writer
	buf bytes.Buffer
}

func (z *zstdWriter) Write(p []byte) (int, error) { return z.buf.Write(p) }

func (z *zstdWriter) Close() error {
	_, err := z.dst.Write(zstdEnc.EncodeAll(z.buf.Bytes(), nil))
	return err
}

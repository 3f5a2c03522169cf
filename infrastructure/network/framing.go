package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

const prefixLength = 4

// FrameReader reads length-prefixed frames off a reliable byte stream.
// Wire format: u32 big-endian length, then that many payload bytes. A
// zero length is a keep-alive and carries no payload.
type FrameReader struct {
	reader        io.Reader
	pool          *BufferPool
	maxPacketSize int
	prefixBuf     [prefixLength]byte
}

func NewFrameReader(reader io.Reader, pool *BufferPool, maxPacketSize int) *FrameReader {
	return &FrameReader{
		reader:        reader,
		pool:          pool,
		maxPacketSize: maxPacketSize,
	}
}

// ReadFrame blocks until one full frame arrives. A keep-alive yields
// (nil, nil). The returned buffer comes from the pool; hand it back with
// Release once the envelope is decoded.
func (r *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(r.reader, r.prefixBuf[:]); err != nil {
		return nil, readError("length prefix", err)
	}

	length := binary.BigEndian.Uint32(r.prefixBuf[:])
	if length == 0 {
		return nil, nil
	}
	if int32(length) < 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidFrame, length)
	}
	if int(length) > r.maxPacketSize {
		log.Warn().Uint32("length", length).Int("max", r.maxPacketSize).Msg("oversize frame")
		return nil, fmt.Errorf("%w: length %d", ErrFrameTooLarge, length)
	}

	buf := r.pool.Get(int(length))
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		r.pool.Put(buf)
		return nil, readError("frame payload", err)
	}
	return buf, nil
}

// Release returns a frame buffer obtained from ReadFrame to the pool.
func (r *FrameReader) Release(buf []byte) {
	r.pool.Put(buf)
}

// readError folds the EOF family into ErrConnectionClosed: a clean close
// mid-prefix and a reset mid-payload end the session either way.
func readError(stage string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", stage, ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// FrameWriter writes length-prefixed frames. Prefix and payload go out
// in one Write call so a frame is never interleaved with another writer;
// callers still serialize frames through the per-connection send mutex.
type FrameWriter struct {
	writer        io.Writer
	pool          *BufferPool
	maxPacketSize int
	keepAliveBuf  [prefixLength]byte
}

func NewFrameWriter(writer io.Writer, pool *BufferPool, maxPacketSize int) *FrameWriter {
	return &FrameWriter{
		writer:        writer,
		pool:          pool,
		maxPacketSize: maxPacketSize,
	}
}

func (w *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}
	if len(payload) > w.maxPacketSize {
		return fmt.Errorf("%w: length %d", ErrFrameTooLarge, len(payload))
	}

	buf := w.pool.Get(prefixLength + len(payload))
	binary.BigEndian.PutUint32(buf[:prefixLength], uint32(len(payload)))
	copy(buf[prefixLength:], payload)

	_, err := w.writer.Write(buf)
	w.pool.Put(buf)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteKeepAlive emits a zero-length frame.
func (w *FrameWriter) WriteKeepAlive() error {
	if _, err := w.writer.Write(w.keepAliveBuf[:]); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	return nil
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sliceio

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"reflect"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/minislice/frame"
)

// An Encoder writes a stream of frames to an io.Writer. Each frame
// is written as its length, its columns in order, and a CRC32
// checksum of the encoded frame. Streams are read back with
// NewDecodingReader.
type Encoder struct {
	enc *gob.Encoder
	crc hash.Hash32
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	crc := crc32.NewIEEE()
	return &Encoder{enc: gob.NewEncoder(io.MultiWriter(w, crc)), crc: crc}
}

// Encode writes the frame f.
func (e *Encoder) Encode(f frame.Frame) error {
	e.crc.Reset()
	if err := e.enc.Encode(f.Len()); err != nil {
		return err
	}
	for i := range f {
		if err := e.enc.EncodeValue(f[i].Value()); err != nil {
			// Errors from gob here are almost always user types
			// that cannot be encoded; retrying will not help.
			if strings.HasPrefix(err.Error(), "gob: ") {
				err = errors.E(errors.Fatal, err)
			}
			return err
		}
	}
	return e.enc.Encode(e.crc.Sum32())
}

type decodingReader struct {
	dec *gob.Decoder
	crc hash.Hash32
	buf frame.Frame
	err error
}

// NewDecodingReader returns a Reader of the frames encoded in r by an
// Encoder. Frames are buffered when the caller reads with a frame
// smaller than the encoded one.
func NewDecodingReader(r io.Reader) Reader {
	// The checksum must see exactly the bytes gob consumes. Gob adds
	// its own buffering unless the reader is an io.ByteReader, so we
	// buffer below the tee and present gob with a (never used)
	// ByteReader.
	crc := crc32.NewIEEE()
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	r = io.TeeReader(r, crc)
	return &decodingReader{dec: gob.NewDecoder(byteReader{Reader: r}), crc: crc}
}

func (d *decodingReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	for d.buf.Len() == 0 {
		d.crc.Reset()
		var n int
		if err := d.dec.Decode(&n); err != nil {
			if err == io.EOF {
				err = EOF
			}
			d.err = err
			return 0, err
		}
		if d.buf, d.err = d.decode(f, n); d.err != nil {
			return 0, d.err
		}
	}
	n := frame.Copy(f, d.buf)
	d.buf = d.buf.Slice(n, d.buf.Len())
	return n, nil
}

// decode reads n rows typed like f, then verifies the checksum.
func (d *decodingReader) decode(f frame.Frame, n int) (frame.Frame, error) {
	out := make(frame.Frame, len(f))
	for i := range f {
		ptr := reflect.New(reflect.SliceOf(f.Out(i)))
		if err := d.dec.DecodeValue(ptr); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		col := ptr.Elem()
		if col.Len() != n {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("column %d: expected %d rows, got %d", i, n, col.Len()))
		}
		out[i] = frame.Column(col)
	}
	sum := d.crc.Sum32()
	var want uint32
	if err := d.dec.Decode(&want); err != nil {
		return nil, err
	}
	if sum != want {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("computed checksum %x but expected checksum %x", sum, want))
	}
	return out, nil
}

type byteReader struct {
	io.Reader
	io.ByteReader
}

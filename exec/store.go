// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/spaolacci/murmur3"
)

// sliceInfo stores metadata for the stored output of a task.
type sliceInfo struct {
	// Size is the encoded byte size of the stored output.
	Size int64
	// Records is the number of records in the stored output.
	Records int64
}

// A writeCommitter is a committable write stream into a store.
type writeCommitter interface {
	io.Writer
	// Commit makes the written data available to Open, recording
	// the number of records written.
	Commit(ctx context.Context, records int64) error
	// Discard abandons the write.
	Discard(ctx context.Context) error
}

// Store stores the encoded output of tasks.
type Store interface {
	// Create returns a writer for the output of the named task. The
	// output is not available to Open until the writer is committed.
	Create(ctx context.Context, task TaskName) (writeCommitter, error)

	// Open returns the stored output of the named task, starting at
	// the given byte offset. If the output is not stored, Open returns
	// an error of kind errors.NotExist.
	Open(ctx context.Context, task TaskName, offset int64) (io.ReadCloser, error)

	// Stat returns metadata for the stored output of the named task.
	Stat(ctx context.Context, task TaskName) (sliceInfo, error)
}

// memoryStore keeps task output in memory.
type memoryStore struct {
	mu     sync.Mutex
	data   map[TaskName][]byte
	counts map[TaskName]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		data:   make(map[TaskName][]byte),
		counts: make(map[TaskName]int64),
	}
}

func (m *memoryStore) get(task TaskName) ([]byte, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[task], m.counts[task]
}

func (m *memoryStore) put(task TaskName, p []byte, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[task] != nil {
		return errors.E(errors.Exists, fmt.Sprintf("output of %s already stored", task))
	}
	if p == nil {
		p = []byte{}
	}
	m.data[task] = p
	m.counts[task] = count
	return nil
}

type memoryWriter struct {
	bytes.Buffer
	task  TaskName
	store *memoryStore
}

func (*memoryWriter) Discard(context.Context) error { return nil }

func (m *memoryWriter) Commit(ctx context.Context, count int64) error {
	return m.store.put(m.task, m.Buffer.Bytes(), count)
}

func (m *memoryStore) Create(ctx context.Context, task TaskName) (writeCommitter, error) {
	if p, _ := m.get(task); p != nil {
		return nil, errors.E(errors.Exists, fmt.Sprintf("create %s", task))
	}
	return &memoryWriter{task: task, store: m}, nil
}

func (m *memoryStore) Open(ctx context.Context, task TaskName, offset int64) (io.ReadCloser, error) {
	p, _ := m.get(task)
	if p == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("open %s", task))
	}
	if int64(len(p)) < offset {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("open %s: offset %d beyond size %d", task, offset, len(p)))
	}
	return ioutil.NopCloser(bytes.NewReader(p[offset:])), nil
}

func (m *memoryStore) Stat(ctx context.Context, task TaskName) (sliceInfo, error) {
	p, n := m.get(task)
	if p == nil {
		return sliceInfo{}, errors.E(errors.NotExist, fmt.Sprintf("stat %s", task))
	}
	return sliceInfo{Size: int64(len(p)), Records: n}, nil
}

// fileStore stores task output under a prefix understood by
// github.com/grailbio/base/file: a local directory or an S3 URL.
// A task's output is stored at "{Prefix}/{hash}/{op}/{shard}-of-{nshard}",
// followed by an 8-byte little-endian record count.
type fileStore struct {
	Prefix string
}

func (s *fileStore) path(task TaskName) string {
	h := murmur3.Sum32([]byte(task.String()))
	return file.Join(s.Prefix, fmt.Sprintf("%02x", h&0xff), task.Op,
		fmt.Sprintf("%03d-of-%03d", task.Shard, task.NumShard))
}

type fileWriter struct {
	file.File
	io.Writer
}

func (w *fileWriter) Discard(ctx context.Context) error {
	w.File.Discard(ctx)
	return nil
}

func (w *fileWriter) Commit(ctx context.Context, count int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(count))
	if _, err := w.Write(b[:]); err != nil {
		w.File.Discard(ctx)
		return err
	}
	return w.File.Close(ctx)
}

func (s *fileStore) Create(ctx context.Context, task TaskName) (writeCommitter, error) {
	f, err := file.Create(ctx, s.path(task))
	if err != nil {
		return nil, err
	}
	return &fileWriter{File: f, Writer: f.Writer(ctx)}, nil
}

func (s *fileStore) Open(ctx context.Context, task TaskName, offset int64) (io.ReadCloser, error) {
	f, err := file.Open(ctx, s.path(task))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat(ctx)
	if err != nil {
		f.Close(ctx)
		return nil, err
	}
	size := info.Size() - 8
	if offset > size {
		f.Close(ctx)
		return nil, errors.E(errors.Invalid, fmt.Sprintf("open %s: offset %d beyond size %d", task, offset, size))
	}
	r := f.Reader(ctx)
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		f.Close(ctx)
		return nil, err
	}
	return &fileReadCloser{
		Reader: io.LimitReader(r, size-offset),
		ctx:    ctx,
		file:   f,
	}, nil
}

func (s *fileStore) Stat(ctx context.Context, task TaskName) (sliceInfo, error) {
	f, err := file.Open(ctx, s.path(task))
	if err != nil {
		return sliceInfo{}, err
	}
	defer f.Close(ctx)
	r := f.Reader(ctx)
	n, err := r.Seek(-8, io.SeekEnd)
	if err != nil {
		return sliceInfo{}, err
	}
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return sliceInfo{}, err
	}
	return sliceInfo{
		Size:    n,
		Records: int64(binary.LittleEndian.Uint64(b[:])),
	}, nil
}

type fileReadCloser struct {
	io.Reader
	ctx  context.Context
	file file.File
}

func (f *fileReadCloser) Close() error {
	return f.file.Close(f.ctx)
}

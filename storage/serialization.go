// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/arbor/core"
)

// Stored records are encoded with MUS primitives, field by field in
// declaration order. Timestamps are Unix microseconds.

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func sizeVector(v []float32) int {
	n := varint.Uint64.Size(uint64(len(v)))
	for _, f := range v {
		n += raw.Float32.Size(f)
	}
	return n
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.Uint64.Marshal(uint64(len(v)), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func unmarshalVector(bs []byte) ([]float32, int, error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	v := make([]float32, length)
	for i := range v {
		f, fn, err := raw.Float32.Unmarshal(bs[n:])
		if err != nil {
			return nil, n, err
		}
		v[i] = f
		n += fn
	}
	return v, n, nil
}

// MarshalHash serializes a message hash, used as index values.
func MarshalHash(h core.Hash) []byte {
	buf := make([]byte, ord.String.Size(string(h)))
	ord.String.Marshal(string(h), buf)
	return buf
}

// UnmarshalHash deserializes a message hash.
func UnmarshalHash(data []byte) (core.Hash, error) {
	s, _, err := ord.String.Unmarshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: hash: %w", ErrSerializationFailed, err)
	}
	return core.Hash(s), nil
}

// MarshalMessage serializes a PersistedMessage.
func MarshalMessage(m *core.PersistedMessage) []byte {
	size := ord.String.Size(string(m.Hash)) +
		ord.String.Size(string(m.Parent)) +
		varint.Int64.Size(int64(m.Role)) +
		ord.String.Size(m.Content) +
		varint.Uint64.Size(m.Seq) +
		sizeTime(m.InsertedAt)

	buf := make([]byte, size)
	n := ord.String.Marshal(string(m.Hash), buf)
	n += ord.String.Marshal(string(m.Parent), buf[n:])
	n += varint.Int64.Marshal(int64(m.Role), buf[n:])
	n += ord.String.Marshal(m.Content, buf[n:])
	n += varint.Uint64.Marshal(m.Seq, buf[n:])
	marshalTime(m.InsertedAt, buf[n:])
	return buf
}

// UnmarshalMessage deserializes a PersistedMessage.
func UnmarshalMessage(data []byte) (*core.PersistedMessage, error) {
	var (
		m   core.PersistedMessage
		n   int
		err error
	)
	fail := func(field string, err error) (*core.PersistedMessage, error) {
		return nil, fmt.Errorf("%w: message %s: %w", ErrSerializationFailed, field, err)
	}

	hash, hn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return fail("hash", err)
	}
	n += hn
	parent, pn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return fail("parent", err)
	}
	n += pn
	role, rn, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return fail("role", err)
	}
	n += rn
	content, cn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return fail("content", err)
	}
	n += cn
	seq, sn, err := varint.Uint64.Unmarshal(data[n:])
	if err != nil {
		return fail("seq", err)
	}
	n += sn
	insertedAt, _, err := unmarshalTime(data[n:])
	if err != nil {
		return fail("insertedAt", err)
	}

	m = core.PersistedMessage{
		Hash:       core.Hash(hash),
		Parent:     core.Hash(parent),
		Role:       core.Role(role),
		Content:    content,
		Seq:        seq,
		InsertedAt: insertedAt,
	}
	return &m, nil
}

// MarshalEmbedding serializes an EmbeddingRecord.
func MarshalEmbedding(r *core.EmbeddingRecord) []byte {
	size := ord.String.Size(string(r.MessageHash)) + sizeVector(r.Vector) + sizeTime(r.CreatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(string(r.MessageHash), buf)
	n += marshalVector(r.Vector, buf[n:])
	marshalTime(r.CreatedAt, buf[n:])
	return buf
}

// UnmarshalEmbedding deserializes an EmbeddingRecord.
func UnmarshalEmbedding(data []byte) (*core.EmbeddingRecord, error) {
	hash, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding hash: %w", ErrSerializationFailed, err)
	}
	vector, vn, err := unmarshalVector(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: embedding vector: %w", ErrSerializationFailed, err)
	}
	n += vn
	createdAt, _, err := unmarshalTime(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: embedding createdAt: %w", ErrSerializationFailed, err)
	}
	return &core.EmbeddingRecord{MessageHash: core.Hash(hash), Vector: vector, CreatedAt: createdAt}, nil
}

// MarshalSummary serializes a SummaryRecord.
func MarshalSummary(r *core.SummaryRecord) []byte {
	size := ord.String.Size(string(r.MessageHash)) + ord.String.Size(r.Summary) + sizeTime(r.CreatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(string(r.MessageHash), buf)
	n += ord.String.Marshal(r.Summary, buf[n:])
	marshalTime(r.CreatedAt, buf[n:])
	return buf
}

// UnmarshalSummary deserializes a SummaryRecord.
func UnmarshalSummary(data []byte) (*core.SummaryRecord, error) {
	hash, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: summary hash: %w", ErrSerializationFailed, err)
	}
	summary, sn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: summary text: %w", ErrSerializationFailed, err)
	}
	n += sn
	createdAt, _, err := unmarshalTime(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: summary createdAt: %w", ErrSerializationFailed, err)
	}
	return &core.SummaryRecord{MessageHash: core.Hash(hash), Summary: summary, CreatedAt: createdAt}, nil
}

// MarshalSummaryEmbedding serializes a SummaryEmbeddingRecord.
func MarshalSummaryEmbedding(r *core.SummaryEmbeddingRecord) []byte {
	size := ord.String.Size(string(r.MessageHash)) + sizeVector(r.Vector) + sizeTime(r.CreatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(string(r.MessageHash), buf)
	n += marshalVector(r.Vector, buf[n:])
	marshalTime(r.CreatedAt, buf[n:])
	return buf
}

// UnmarshalSummaryEmbedding deserializes a SummaryEmbeddingRecord.
func UnmarshalSummaryEmbedding(data []byte) (*core.SummaryEmbeddingRecord, error) {
	r, err := UnmarshalEmbedding(data)
	if err != nil {
		return nil, err
	}
	return &core.SummaryEmbeddingRecord{MessageHash: r.MessageHash, Vector: r.Vector, CreatedAt: r.CreatedAt}, nil
}

// MarshalPin serializes a PinRecord.
func MarshalPin(r *core.PinRecord) []byte {
	size := ord.String.Size(string(r.MessageHash)) + sizeTime(r.RemoteAt) + sizeTime(r.CreatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(string(r.MessageHash), buf)
	n += marshalTime(r.RemoteAt, buf[n:])
	marshalTime(r.CreatedAt, buf[n:])
	return buf
}

// UnmarshalPin deserializes a PinRecord.
func UnmarshalPin(data []byte) (*core.PinRecord, error) {
	hash, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: pin hash: %w", ErrSerializationFailed, err)
	}
	remoteAt, rn, err := unmarshalTime(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: pin remoteAt: %w", ErrSerializationFailed, err)
	}
	n += rn
	createdAt, _, err := unmarshalTime(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: pin createdAt: %w", ErrSerializationFailed, err)
	}
	return &core.PinRecord{MessageHash: core.Hash(hash), RemoteAt: remoteAt, CreatedAt: createdAt}, nil
}

// MarshalFunctionResult serializes a FunctionResult.
func MarshalFunctionResult(r *core.FunctionResult) []byte {
	size := ord.String.Size(r.UUID) +
		varint.Uint64.Size(r.Seq) +
		ord.String.Size(r.Result) +
		ord.Bool.Size(r.Completed)
	buf := make([]byte, size)
	n := ord.String.Marshal(r.UUID, buf)
	n += varint.Uint64.Marshal(r.Seq, buf[n:])
	n += ord.String.Marshal(r.Result, buf[n:])
	ord.Bool.Marshal(r.Completed, buf[n:])
	return buf
}

// UnmarshalFunctionResult deserializes a FunctionResult.
func UnmarshalFunctionResult(data []byte) (*core.FunctionResult, error) {
	uuid, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: result uuid: %w", ErrSerializationFailed, err)
	}
	seq, sn, err := varint.Uint64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: result seq: %w", ErrSerializationFailed, err)
	}
	n += sn
	result, rn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: result payload: %w", ErrSerializationFailed, err)
	}
	n += rn
	completed, _, err := ord.Bool.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: result completed: %w", ErrSerializationFailed, err)
	}
	return &core.FunctionResult{UUID: uuid, Seq: seq, Result: result, Completed: completed}, nil
}

// MarshalFunctionDependency serializes a FunctionDependency.
func MarshalFunctionDependency(r *core.FunctionDependency) []byte {
	size := ord.String.Size(string(r.FunctionHash)) + ord.String.Size(r.Name) + sizeTime(r.CreatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(string(r.FunctionHash), buf)
	n += ord.String.Marshal(r.Name, buf[n:])
	marshalTime(r.CreatedAt, buf[n:])
	return buf
}

// UnmarshalFunctionDependency deserializes a FunctionDependency.
func UnmarshalFunctionDependency(data []byte) (*core.FunctionDependency, error) {
	hash, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: dependency hash: %w", ErrSerializationFailed, err)
	}
	name, dn, err := ord.String.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: dependency name: %w", ErrSerializationFailed, err)
	}
	n += dn
	createdAt, _, err := unmarshalTime(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: dependency createdAt: %w", ErrSerializationFailed, err)
	}
	return &core.FunctionDependency{FunctionHash: core.Hash(hash), Name: name, CreatedAt: createdAt}, nil
}

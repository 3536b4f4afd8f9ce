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
	"maps"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/cellar/core"
)

// Attribute value tags.
const (
	tagString byte = iota
	tagNumber
	tagBool
)

// SnapshotMeta describes a stored snapshot generation.
type SnapshotMeta struct {
	Fingerprint core.ID
	Dimension   int
	RecordCount int
	VectorCount int
	CreatedAt   time.Time
}

// MetaFromSnapshot summarizes a snapshot.
func MetaFromSnapshot(snap *core.Snapshot) SnapshotMeta {
	return SnapshotMeta{
		Fingerprint: snap.Fingerprint,
		Dimension:   snap.Dimension,
		RecordCount: len(snap.Records),
		VectorCount: len(snap.Vectors),
		CreatedAt:   snap.CreatedAt,
	}
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: id: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalRecord serializes a Record to bytes. Attributes are written in key
// order so equal records produce equal bytes.
func MarshalRecord(record *core.Record) []byte {
	attrs := record.Attributes()
	keys := slices.Sorted(maps.Keys(attrs))

	size := varint.Int.Size(record.Index) + varint.Int.Size(len(keys))
	for _, k := range keys {
		size += ord.String.Size(k) + 1 + valueSize(attrs[k])
	}

	buf := make([]byte, size)
	n := varint.Int.Marshal(record.Index, buf)
	n += varint.Int.Marshal(len(keys), buf[n:])
	for _, k := range keys {
		n += ord.String.Marshal(k, buf[n:])
		n += marshalValue(attrs[k], buf[n:])
	}
	return buf
}

// UnmarshalRecord deserializes a Record from bytes.
func UnmarshalRecord(data []byte) (*core.Record, error) {
	index, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: record index: %w", ErrSerializationFailed, err)
	}
	count, m, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: record attribute count: %w", ErrSerializationFailed, err)
	}
	n += m
	if count < 0 || count > len(data)-n {
		return nil, fmt.Errorf("%w: record attribute count %d", ErrTruncatedData, count)
	}

	attrs := make(map[string]any, count)
	for i := 0; i < count; i++ {
		key, m, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %d name: %w", ErrSerializationFailed, i, err)
		}
		n += m
		val, m, err := unmarshalValue(data[n:])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		n += m
		attrs[key] = val
	}
	return core.NewRecord(index, attrs), nil
}

func valueSize(v any) int {
	switch val := v.(type) {
	case string:
		return ord.String.Size(val)
	case float64:
		return raw.Float64.Size(val)
	case bool:
		return ord.Bool.Size(val)
	}
	return 0
}

func marshalValue(v any, buf []byte) int {
	switch val := v.(type) {
	case string:
		buf[0] = tagString
		return 1 + ord.String.Marshal(val, buf[1:])
	case float64:
		buf[0] = tagNumber
		return 1 + raw.Float64.Marshal(val, buf[1:])
	case bool:
		buf[0] = tagBool
		return 1 + ord.Bool.Marshal(val, buf[1:])
	}
	return 0
}

func unmarshalValue(data []byte) (any, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrTruncatedData
	}
	var (
		v   any
		n   int
		err error
	)
	switch data[0] {
	case tagString:
		v, n, err = ord.String.Unmarshal(data[1:])
	case tagNumber:
		v, n, err = raw.Float64.Unmarshal(data[1:])
	case tagBool:
		v, n, err = ord.Bool.Unmarshal(data[1:])
	default:
		return nil, 0, fmt.Errorf("%w: unknown value tag %d", ErrSerializationFailed, data[0])
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, n + 1, nil
}

// MarshalVector serializes a vector as a length followed by fixed-width floats.
func MarshalVector(v core.Vector) []byte {
	size := varint.Int.Size(len(v))
	for _, x := range v {
		size += raw.Float32.Size(x)
	}
	buf := make([]byte, size)
	n := varint.Int.Marshal(len(v), buf)
	for _, x := range v {
		n += raw.Float32.Marshal(x, buf[n:])
	}
	return buf
}

// UnmarshalVector deserializes a vector from bytes.
func UnmarshalVector(data []byte) (core.Vector, error) {
	length, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector length: %w", ErrSerializationFailed, err)
	}
	if length < 0 || length*4 > len(data)-n {
		return nil, fmt.Errorf("%w: vector of %d values in %d bytes", ErrTruncatedData, length, len(data)-n)
	}
	v := make(core.Vector, length)
	for i := range v {
		x, m, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: vector value %d: %w", ErrSerializationFailed, i, err)
		}
		v[i] = x
		n += m
	}
	return v, nil
}

// MarshalSnapshotMeta serializes snapshot metadata to bytes.
func MarshalSnapshotMeta(meta SnapshotMeta) []byte {
	created := meta.CreatedAt.UnixMicro()
	size := varint.Uint64.Size(uint64(meta.Fingerprint)) +
		varint.Int.Size(meta.Dimension) +
		varint.Int.Size(meta.RecordCount) +
		varint.Int.Size(meta.VectorCount) +
		varint.Int64.Size(created)

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(meta.Fingerprint), buf)
	n += varint.Int.Marshal(meta.Dimension, buf[n:])
	n += varint.Int.Marshal(meta.RecordCount, buf[n:])
	n += varint.Int.Marshal(meta.VectorCount, buf[n:])
	varint.Int64.Marshal(created, buf[n:])
	return buf
}

// UnmarshalSnapshotMeta deserializes snapshot metadata from bytes.
func UnmarshalSnapshotMeta(data []byte) (SnapshotMeta, error) {
	var meta SnapshotMeta

	fp, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return meta, fmt.Errorf("%w: fingerprint: %w", ErrSerializationFailed, err)
	}
	meta.Fingerprint = core.ID(fp)

	fields := []*int{&meta.Dimension, &meta.RecordCount, &meta.VectorCount}
	for _, f := range fields {
		v, m, err := varint.Int.Unmarshal(data[n:])
		if err != nil {
			return meta, fmt.Errorf("%w: snapshot meta: %w", ErrSerializationFailed, err)
		}
		*f = v
		n += m
	}

	created, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return meta, fmt.Errorf("%w: created at: %w", ErrSerializationFailed, err)
	}
	meta.CreatedAt = time.UnixMicro(created).UTC()
	return meta, nil
}

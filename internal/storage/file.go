package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var (
	fileEncMode cbor.EncMode
	fileDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		// Integers already use the smallest encoding; floats keep float32.
		ShortestFloat: cbor.ShortestFloatNone,
	}
	fileEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create retentive CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	fileDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create retentive CBOR decoder mode: %v", err))
	}
}

// storedValue is the on-disk form of one retentive variable.
type storedValue struct {
	Kind string  `cbor:"1,keyasint"`
	Bool bool    `cbor:"2,keyasint,omitempty"`
	Int  int64   `cbor:"3,keyasint,omitempty"`
	Real float32 `cbor:"4,keyasint,omitempty"`
	Str  string  `cbor:"5,keyasint,omitempty"`
}

func toStored(v value.Value) storedValue {
	s := storedValue{Kind: v.Kind().String()}
	switch v.Kind() {
	case value.KindBool:
		s.Bool = v.Bool()
	case value.KindByte:
		s.Int = int64(v.Byte())
	case value.KindInt:
		s.Int = int64(v.Int())
	case value.KindDInt:
		s.Int = int64(v.DInt())
	case value.KindReal:
		s.Real = v.Real()
	case value.KindString:
		s.Str = v.Str()
	}
	return s
}

func (s storedValue) value() (value.Value, error) {
	kind, err := value.ParseKind(s.Kind)
	if err != nil {
		return value.Value{}, err
	}
	switch kind {
	case value.KindBool:
		return value.Bool(s.Bool), nil
	case value.KindReal:
		return value.Real(s.Real), nil
	case value.KindString:
		return value.String(s.Str), nil
	default:
		return value.FromFloat(float64(s.Int), kind)
	}
}

// FileStore keeps retentive variables in one CBOR file per namespace.
type FileStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]map[string]storedValue
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create retentive dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]map[string]storedValue),
	}, nil
}

func (f *FileStore) path(namespace string) string {
	return filepath.Join(f.dir, url.PathEscape(namespace)+".cbor")
}

// namespace returns the cached entries, reading the file on first use.
// Requires f.mu.
func (f *FileStore) namespace(namespace string) (map[string]storedValue, error) {
	if entries, ok := f.cache[namespace]; ok {
		return entries, nil
	}

	entries := make(map[string]storedValue)
	data, err := os.ReadFile(f.path(namespace))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read retentive file: %v: %w", err, types.ErrPersistenceFailure)
	default:
		if err := fileDecMode.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("corrupt retentive file %s: %v: %w", f.path(namespace), err, types.ErrPersistenceFailure)
		}
	}

	f.cache[namespace] = entries
	return entries, nil
}

func (f *FileStore) LoadValue(_ context.Context, namespace, name string, kind value.Kind) (value.Value, bool, error) {
	f.mu.Lock()
	entries, err := f.namespace(namespace)
	var (
		stored storedValue
		found  bool
	)
	if err == nil {
		stored, found = entries[name]
	}
	f.mu.Unlock()

	if err != nil || !found {
		return value.Value{}, false, err
	}

	v, err := stored.value()
	if err != nil {
		return value.Value{}, false, fmt.Errorf("retentive %s.%s: %w", namespace, name, err)
	}
	if v.Kind() != kind {
		raw, err := v.MarshalJSON()
		if err != nil {
			return value.Value{}, false, fmt.Errorf("retentive %s.%s: %w", namespace, name, err)
		}
		converted, err := decodeLiteral(raw, kind)
		if err != nil {
			return value.Value{}, false, fmt.Errorf("retentive %s.%s: %w", namespace, name, err)
		}
		v = converted
	}
	return v, true, nil
}

// SaveValue updates the entry and rewrites the namespace file atomically.
func (f *FileStore) SaveValue(_ context.Context, namespace, name string, v value.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.namespace(namespace)
	if err != nil {
		return err
	}

	stored := toStored(v)
	if prev, ok := entries[name]; ok && prev == stored {
		return nil
	}

	next := make(map[string]storedValue, len(entries)+1)
	for k, sv := range entries {
		next[k] = sv
	}
	next[name] = stored

	if err := f.flush(namespace, next); err != nil {
		return err
	}
	f.cache[namespace] = next
	return nil
}

func (f *FileStore) DeleteNamespace(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.cache, namespace)
	if err := os.Remove(f.path(namespace)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete retentive file: %v: %w", err, types.ErrPersistenceFailure)
	}
	return nil
}

func (f *FileStore) flush(namespace string, entries map[string]storedValue) error {
	data, err := fileEncMode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode retentive values: %w", err)
	}

	path := f.path(namespace)
	tmp, err := os.CreateTemp(f.dir, ".retentive-*")
	if err != nil {
		return fmt.Errorf("failed to write retentive file: %v: %w", err, types.ErrPersistenceFailure)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write retentive file: %v: %w", err, types.ErrPersistenceFailure)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write retentive file: %v: %w", err, types.ErrPersistenceFailure)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace retentive file: %v: %w", err, types.ErrPersistenceFailure)
	}

	f.logger.Debug("Retentive values written",
		zap.String("program", namespace),
		zap.Int("variables", len(entries)))
	return nil
}

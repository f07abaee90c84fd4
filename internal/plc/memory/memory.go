package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"go.uber.org/zap"
)

// RetentiveStore is the durable key-value namespace behind retentive
// variables. Namespaces keep programs that reuse variable names apart.
type RetentiveStore interface {
	// LoadValue returns the stored value and true, or false when nothing is stored.
	LoadValue(ctx context.Context, namespace, name string, kind value.Kind) (value.Value, bool, error)
	SaveValue(ctx context.Context, namespace, name string, v value.Value) error
}

type Variable struct {
	Name      string      `json:"name"`
	Kind      value.Kind  `json:"type"`
	Value     value.Value `json:"value"`
	Retentive bool        `json:"retentive"`
	MeshLink  string      `json:"mesh_link,omitempty"`
}

// Memory is the named variable table of one program.
type Memory struct {
	namespace string
	store     RetentiveStore
	logger    *zap.Logger

	mu   sync.RWMutex
	vars map[string]*Variable
}

// New creates an empty memory. store may be nil, in which case retentive
// load and save are no-ops.
func New(namespace string, store RetentiveStore, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		namespace: namespace,
		store:     store,
		logger:    logger,
		vars:      make(map[string]*Variable),
	}
}

func (m *Memory) Namespace() string {
	return m.namespace
}

// Declare adds a variable holding the zero value of kind.
func (m *Memory) Declare(name string, kind value.Kind, retentive bool, meshLink string) error {
	if name == "" {
		return fmt.Errorf("variable name is empty: %w", types.ErrInvalidConfig)
	}
	if !kind.Valid() {
		return fmt.Errorf("variable %s has unknown type: %w", name, types.ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vars[name]; exists {
		return fmt.Errorf("variable %s: %w", name, types.ErrAlreadyExists)
	}

	m.vars[name] = &Variable{
		Name:      name,
		Kind:      kind,
		Value:     value.Zero(kind),
		Retentive: retentive,
		MeshLink:  meshLink,
	}
	return nil
}

// Set stores v into name, widening it to the declared kind when allowed.
func (m *Memory) Set(name string, v value.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	variable, exists := m.vars[name]
	if !exists {
		return fmt.Errorf("variable %s: %w", name, types.ErrNotFound)
	}

	coerced, err := value.Coerce(v, variable.Kind)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	variable.Value = coerced
	return nil
}

// SetNumeric stores a computed number into name using the declared numeric
// kind of the variable.
func (m *Memory) SetNumeric(name string, f float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	variable, exists := m.vars[name]
	if !exists {
		return fmt.Errorf("variable %s: %w", name, types.ErrNotFound)
	}

	v, err := value.FromFloat(f, variable.Kind)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	variable.Value = v
	return nil
}

// Assign stores a JSON literal into name. Used by init and sequencer actions.
func (m *Memory) Assign(name string, literal any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	variable, exists := m.vars[name]
	if !exists {
		return fmt.Errorf("variable %s: %w", name, types.ErrNotFound)
	}

	v, err := value.Literal(literal, variable.Kind)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	variable.Value = v
	return nil
}

// Get returns the value of name when its kind matches def, otherwise def.
func (m *Memory) Get(name string, def value.Value) value.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()

	variable, exists := m.vars[name]
	if !exists || variable.Kind != def.Kind() {
		return def
	}
	return variable.Value
}

func (m *Memory) GetBool(name string, def bool) bool {
	return m.Get(name, value.Bool(def)).Bool()
}

func (m *Memory) GetByte(name string, def uint8) uint8 {
	return m.Get(name, value.Byte(def)).Byte()
}

func (m *Memory) GetInt(name string, def int16) int16 {
	return m.Get(name, value.Int(def)).Int()
}

func (m *Memory) GetDInt(name string, def uint32) uint32 {
	return m.Get(name, value.DInt(def)).DInt()
}

func (m *Memory) GetReal(name string, def float32) float32 {
	return m.Get(name, value.Real(def)).Real()
}

func (m *Memory) GetString(name string, def string) string {
	return m.Get(name, value.String(def)).Str()
}

// Numeric reads any numeric variable as float64. STRING and missing
// variables return def.
func (m *Memory) Numeric(name string, def float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	variable, exists := m.vars[name]
	if !exists {
		return def
	}
	f, ok := variable.Value.Float64()
	if !ok {
		return def
	}
	return f
}

// Lookup returns a copy of the variable.
func (m *Memory) Lookup(name string) (Variable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	variable, exists := m.vars[name]
	if !exists {
		return Variable{}, false
	}
	return *variable, true
}

// Variables returns a snapshot sorted by name.
func (m *Memory) Variables() []Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Variable, 0, len(m.vars))
	for _, variable := range m.vars {
		result = append(result, *variable)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vars)
}

// Clear drops every variable.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.vars = make(map[string]*Variable)
	m.mu.Unlock()
}

func (m *Memory) retentive() []Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Variable, 0)
	for _, variable := range m.vars {
		if variable.Retentive {
			result = append(result, *variable)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// LoadRetentive initializes every retentive variable from the store.
// Variables without a stored value keep their zero value. A failing key is
// logged and skipped; the returned error reports how many keys failed.
func (m *Memory) LoadRetentive(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	var errs []error
	for _, variable := range m.retentive() {
		v, found, err := m.store.LoadValue(ctx, m.namespace, variable.Name, variable.Kind)
		if err != nil {
			m.logger.Warn("Failed to load retentive variable",
				zap.String("program", m.namespace),
				zap.String("variable", variable.Name),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if !found {
			continue
		}
		if err := m.Set(variable.Name, v); err != nil {
			m.logger.Warn("Stored retentive value does not fit variable",
				zap.String("program", m.namespace),
				zap.String("variable", variable.Name),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d retentive loads failed: %w", len(errs), errors.Join(types.ErrPersistenceFailure, errors.Join(errs...)))
	}
	return nil
}

// SaveRetentive writes every retentive variable to the store, continuing
// past failing keys.
func (m *Memory) SaveRetentive(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	var errs []error
	for _, variable := range m.retentive() {
		if err := m.store.SaveValue(ctx, m.namespace, variable.Name, variable.Value); err != nil {
			m.logger.Warn("Failed to save retentive variable",
				zap.String("program", m.namespace),
				zap.String("variable", variable.Name),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d retentive saves failed: %w", len(errs), errors.Join(types.ErrPersistenceFailure, errors.Join(errs...)))
	}
	return nil
}

// Package schema holds the registry of field id -> (name, type, flags)
// that every document's indexed/stored fields are validated against.
// FieldIds are dense, monotonically assigned, and never reused, even once
// a field is removed (spec.md §4.2).
package schema

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	uatomic "go.uber.org/atomic"

	"github.com/emberindex/ember/internal/ids"
	"github.com/emberindex/ember/internal/keys"
	"github.com/emberindex/ember/internal/kv"
)

// FieldType is the declared type of a field's values.
type FieldType int

const (
	Text FieldType = iota
	PlainString
	I64
	Boolean
	DateTime
)

// FieldFlags is a bitmask of field behaviors.
type FieldFlags uint8

const (
	Indexed FieldFlags = 1 << iota
	Stored
)

// ErrFieldExists is returned by AddField when name is already registered
// (and not tombstoned).
var ErrFieldExists = errors.New("schema: field already exists")

// Field describes one registered field.
type Field struct {
	ID         ids.FieldId
	Name       string
	Type       FieldType
	Flags      FieldFlags
	Tombstoned bool
}

// wireField is Field's JSON-serialized shape, persisted as a single KV
// entry under keys.SchemaKey and rewritten wholesale on every mutation -
// the schema is small and cold enough that a snapshot-per-write policy
// (rather than per-field keys) keeps the implementation simple, matching
// spec.md §4.2 ("serialized as one KV entry and rewritten atomically").
type wireField struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Type       int    `json:"type"`
	Flags      uint8  `json:"flags"`
	Tombstoned bool   `json:"tombstoned"`
}

type snapshot struct {
	fields   []Field
	byName   map[string]*Field
	byID     map[ids.FieldId]*Field
}

func newSnapshot(fields []Field) *snapshot {
	s := &snapshot{
		fields: fields,
		byName: make(map[string]*Field, len(fields)),
		byID:   make(map[ids.FieldId]*Field, len(fields)),
	}
	for i := range s.fields {
		f := &s.fields[i]
		s.byID[f.ID] = f
		if !f.Tombstoned {
			s.byName[f.Name] = f
		}
	}
	return s
}

// Schema is the field registry. Reads are lock-free against a versioned
// snapshot pointer; mutations serialize through a mutex and publish a new
// snapshot atomically, per spec.md §5's table entry for Schema.
type Schema struct {
	store   kv.Store
	mu      sync.Mutex // serializes AddField/RemoveField
	current atomic.Pointer[snapshot]
	nextID  uatomic.Uint32
}

// New creates an empty schema and persists it.
func New(store kv.Store) (*Schema, error) {
	s := &Schema{store: store}
	s.current.Store(newSnapshot(nil))
	s.nextID.Store(1)
	if err := s.persist(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Open rebuilds the schema from its persisted KV entry.
func Open(store kv.Store) (*Schema, error) {
	raw, err := store.Get(keys.SchemaKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return New(store)
		}
		return nil, err
	}

	var wire []wireField
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	fields := make([]Field, len(wire))
	var maxID ids.FieldId
	for i, w := range wire {
		fields[i] = Field{
			ID:         ids.FieldId(w.ID),
			Name:       w.Name,
			Type:       FieldType(w.Type),
			Flags:      FieldFlags(w.Flags),
			Tombstoned: w.Tombstoned,
		}
		if fields[i].ID > maxID {
			maxID = fields[i].ID
		}
	}

	s := &Schema{store: store}
	s.current.Store(newSnapshot(fields))
	s.nextID.Store(uint32(maxID) + 1)
	return s, nil
}

func (s *Schema) persist(fields []Field) error {
	wire := make([]wireField, len(fields))
	for i, f := range fields {
		wire[i] = wireField{
			ID:         uint32(f.ID),
			Name:       f.Name,
			Type:       int(f.Type),
			Flags:      uint8(f.Flags),
			Tombstoned: f.Tombstoned,
		}
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	b := s.store.NewBatch()
	b.Set(keys.SchemaKey, raw)
	return b.Commit(true)
}

// AddField registers a new field. Returns ErrFieldExists if name is
// already registered as a live (non-tombstoned) field.
func (s *Schema) AddField(name string, typ FieldType, flags FieldFlags) (ids.FieldId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if _, ok := cur.byName[name]; ok {
		return 0, ErrFieldExists
	}

	id := ids.FieldId(s.nextID.Add(1) - 1)
	updated := append(append([]Field(nil), cur.fields...), Field{
		ID:    id,
		Name:  name,
		Type:  typ,
		Flags: flags,
	})

	if err := s.persist(updated); err != nil {
		return 0, err
	}

	s.current.Store(newSnapshot(updated))
	return id, nil
}

// GetFieldByName returns the live field registered under name, if any.
func (s *Schema) GetFieldByName(name string) (Field, bool) {
	cur := s.current.Load()
	f, ok := cur.byName[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// GetField returns the field registered under id, live or tombstoned.
func (s *Schema) GetField(id ids.FieldId) (Field, bool) {
	cur := s.current.Load()
	f, ok := cur.byID[id]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// RemoveField tombstones id. Its id is never reused. Returns false if id
// was not registered or already tombstoned.
func (s *Schema) RemoveField(id ids.FieldId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	f, ok := cur.byID[id]
	if !ok || f.Tombstoned {
		return false, nil
	}

	updated := append([]Field(nil), cur.fields...)
	for i := range updated {
		if updated[i].ID == id {
			updated[i].Tombstoned = true
		}
	}

	if err := s.persist(updated); err != nil {
		return false, err
	}

	s.current.Store(newSnapshot(updated))
	return true, nil
}

// Fields returns every live field.
func (s *Schema) Fields() []Field {
	cur := s.current.Load()
	out := make([]Field, 0, len(cur.byName))
	for _, f := range cur.fields {
		if !f.Tombstoned {
			out = append(out, f)
		}
	}
	return out
}

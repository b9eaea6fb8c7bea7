package orm

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Key generation strategy names stored in PrimaryKey.Generator
const (
	GeneratorIdentity = "identity"
	GeneratorComb     = "comb"
	GeneratorULID     = "ulid"
)

// =====================================
// Key Generator Interface
// =====================================

// Key is a generated primary key value together with its execution priority.
// PriorityLow values are known before the insert is issued; PriorityHigh
// values are statements that must run after the insert they follow.
type Key struct {
	Value    interface{}
	Priority Priority
}

// KeyGenerator supplies primary key values for a named strategy
type KeyGenerator interface {
	// Name returns the strategy name, e.g. "comb"
	Name() string

	// Supports reports whether the strategy can produce values for the property's type
	Supports(p *Property) bool

	// GenerateKey produces a key value for the named property of the entity
	GenerateKey(d Dialect, e *EntityMap, property string) (Key, error)
}

// keyProperty resolves the property a generator is asked to fill
func keyProperty(e *EntityMap, property string) (*Property, error) {
	if e == nil {
		return nil, NewError(ErrorTypeInvalidArgument, "entity map is nil")
	}
	m, _, ok := e.Lookup(property)
	if !ok {
		return nil, mappingError("entity %s: no key property %s", e.Name, property)
	}
	return m.Base(), nil
}

// =====================================
// Identity
// =====================================

// IdentityGenerator defers to the database's auto-increment column. The key
// value is the dialect's "select last identity" statement.
type IdentityGenerator struct{}

// NewIdentityGenerator creates the database identity strategy
func NewIdentityGenerator() *IdentityGenerator { return &IdentityGenerator{} }

func (g *IdentityGenerator) Name() string { return GeneratorIdentity }

func (g *IdentityGenerator) Supports(p *Property) bool { return p.DbType.IsInteger() }

func (g *IdentityGenerator) GenerateKey(d Dialect, e *EntityMap, property string) (Key, error) {
	if d == nil {
		return Key{}, NewError(ErrorTypeInvalidArgument, "identity keys need a dialect")
	}
	if _, err := keyProperty(e, property); err != nil {
		return Key{}, err
	}
	return Key{Value: d.LastInsertID(e), Priority: PriorityHigh}, nil
}

// =====================================
// Comb (sequential GUID)
// =====================================

var combEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// CombGenerator produces GUIDs whose last six bytes hold the number of days
// since 1900-01-01 (bytes 10-11) and the 1/300 second ticks elapsed that day
// (bytes 12-15), both big-endian. Values from one generator are strictly
// increasing over that range even when generated within the same tick.
type CombGenerator struct {
	mutex sync.Mutex
	last  uint64
	now   func() time.Time
}

// NewCombGenerator creates a comb strategy reading the wall clock
func NewCombGenerator() *CombGenerator {
	return &CombGenerator{now: time.Now}
}

func (g *CombGenerator) Name() string { return GeneratorComb }

func (g *CombGenerator) Supports(p *Property) bool { return p.DbType == DbTypeGuid }

func (g *CombGenerator) GenerateKey(_ Dialect, e *EntityMap, property string) (Key, error) {
	if _, err := keyProperty(e, property); err != nil {
		return Key{}, err
	}
	id, err := g.Next()
	if err != nil {
		return Key{}, err
	}
	return Key{Value: id, Priority: PriorityLow}, nil
}

// Next returns the next sequential GUID
func (g *CombGenerator) Next() (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, NewErrorWithCause(ErrorTypeInternal, "failed to read random bytes", err)
	}

	now := g.now().UTC()
	days := uint64(now.Sub(combEpoch) / (24 * time.Hour))
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ticks := uint64(now.Sub(midnight) * 300 / time.Second)
	seq := days<<32 | ticks

	g.mutex.Lock()
	if seq <= g.last {
		seq = g.last + 1
	}
	g.last = seq
	g.mutex.Unlock()

	binary.BigEndian.PutUint16(id[10:12], uint16(seq>>32))
	binary.BigEndian.PutUint32(id[12:16], uint32(seq))
	return id, nil
}

// CombTime decodes the timestamp stored in a comb GUID, to 1/300 second
func CombTime(id uuid.UUID) time.Time {
	days := binary.BigEndian.Uint16(id[10:12])
	ticks := binary.BigEndian.Uint32(id[12:16])
	return combEpoch.AddDate(0, 0, int(days)).Add(time.Duration(ticks) * time.Second / 300)
}

// =====================================
// ULID
// =====================================

// ULIDGenerator produces monotonic ULIDs. String keys receive the canonical
// text form, Guid keys the 16 raw bytes.
type ULIDGenerator struct {
	mutex   sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDGenerator creates a ulid strategy seeded from crypto/rand
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULIDGenerator) Name() string { return GeneratorULID }

func (g *ULIDGenerator) Supports(p *Property) bool {
	return p.DbType == DbTypeGuid || p.DbType.IsText()
}

func (g *ULIDGenerator) GenerateKey(_ Dialect, e *EntityMap, property string) (Key, error) {
	p, err := keyProperty(e, property)
	if err != nil {
		return Key{}, err
	}

	g.mutex.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mutex.Unlock()
	if err != nil {
		return Key{}, NewErrorWithCause(ErrorTypeInternal, "failed to generate ulid", err)
	}

	if p.DbType == DbTypeGuid {
		return Key{Value: uuid.UUID(id), Priority: PriorityLow}, nil
	}
	return Key{Value: id.String(), Priority: PriorityLow}, nil
}

// =====================================
// Key Generator Registry
// =====================================

// KeyGenerators resolves key generation strategies by name
type KeyGenerators struct {
	mutex      sync.RWMutex
	generators map[string]KeyGenerator
}

// NewKeyGenerators creates a registry holding the built-in strategies
func NewKeyGenerators() *KeyGenerators {
	r := &KeyGenerators{generators: make(map[string]KeyGenerator)}
	r.Register(NewIdentityGenerator())
	r.Register(NewCombGenerator())
	r.Register(NewULIDGenerator())
	return r
}

// Register adds or replaces a strategy under its name
func (r *KeyGenerators) Register(g KeyGenerator) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.generators[strings.ToLower(g.Name())] = g
}

// Lookup returns the named strategy
func (r *KeyGenerators) Lookup(name string) (KeyGenerator, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	g, ok := r.generators[strings.ToLower(name)]
	if !ok {
		return nil, NewError(ErrorTypeUnsupported, fmt.Sprintf("no key generator named %q", name))
	}
	return g, nil
}

// Names returns the registered strategy names, sorted
func (r *KeyGenerators) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the entity's key strategy exists and matches the key's
// type. Strategies only fill single-column keys.
func (r *KeyGenerators) Validate(e *EntityMap) error {
	if e.PrimaryKey == nil || e.PrimaryKey.Generator == "" {
		return nil
	}
	g, err := r.Lookup(e.PrimaryKey.Generator)
	if err != nil {
		return mappingError("entity %s: unknown key generator %s", e.Name, e.PrimaryKey.Generator)
	}
	if e.PrimaryKey.IsComposite() {
		return mappingError("entity %s: key generator %s cannot fill a composite key", e.Name, g.Name())
	}
	keys := e.KeyProperties()
	if len(keys) != 1 {
		return mappingError("entity %s: key generator %s needs exactly one key column", e.Name, g.Name())
	}
	if !g.Supports(keys[0]) {
		return mappingError("entity %s: key generator %s does not support %s key %s", e.Name, g.Name(), keys[0].DbType, keys[0].Name)
	}
	return nil
}

// Generate produces the key for an entity using its configured strategy
func (r *KeyGenerators) Generate(d Dialect, e *EntityMap) (Key, *Property, error) {
	if err := r.Validate(e); err != nil {
		return Key{}, nil, err
	}
	if e.PrimaryKey == nil || e.PrimaryKey.Generator == "" {
		return Key{}, nil, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("entity %s has no key generator", e.Name))
	}
	g, err := r.Lookup(e.PrimaryKey.Generator)
	if err != nil {
		return Key{}, nil, err
	}
	p := e.KeyProperties()[0]
	key, err := g.GenerateKey(d, e, p.Name)
	if err != nil {
		return Key{}, nil, err
	}
	return key, p, nil
}

package orm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =====================================
// Map Document
// =====================================

// MapDocument is the persisted form of a MapConfig. Property order within an
// entity is the declaration order.
type MapDocument struct {
	Settings     ProjectSettings       `yaml:"settings" json:"settings" bson:"settings"`
	Entities     []EntityDocument      `yaml:"entities" json:"entities" bson:"entities" validate:"dive"`
	ComplexTypes []ComplexTypeDocument `yaml:"complex_types,omitempty" json:"complex_types,omitempty" bson:"complex_types,omitempty" validate:"dive"`
	Statements   []string              `yaml:"unprocessed_statements,omitempty" json:"unprocessed_statements,omitempty" bson:"unprocessed_statements,omitempty"`
}

// EntityDocument is the persisted form of an EntityMap
type EntityDocument struct {
	Name       string             `yaml:"name" json:"name" bson:"name" validate:"required"`
	Table      string             `yaml:"table" json:"table" bson:"table" validate:"required"`
	Schema     string             `yaml:"schema,omitempty" json:"schema,omitempty" bson:"schema,omitempty"`
	Namespace  string             `yaml:"namespace,omitempty" json:"namespace,omitempty" bson:"namespace,omitempty"`
	Alias      string             `yaml:"alias,omitempty" json:"alias,omitempty" bson:"alias,omitempty"`
	Extends    string             `yaml:"extends,omitempty" json:"extends,omitempty" bson:"extends,omitempty"`
	LinkTable  bool               `yaml:"link_table,omitempty" json:"link_table,omitempty" bson:"link_table,omitempty"`
	PrimaryKey *KeyDocument       `yaml:"primary_key,omitempty" json:"primary_key,omitempty" bson:"primary_key,omitempty"`
	Properties []PropertyDocument `yaml:"properties" json:"properties" bson:"properties" validate:"dive"`
}

// KeyDocument is the persisted form of a PrimaryKey
type KeyDocument struct {
	Columns   []string `yaml:"columns" json:"columns" bson:"columns" validate:"min=1,dive,required"`
	Generator string   `yaml:"generator,omitempty" json:"generator,omitempty" bson:"generator,omitempty"`
}

// PropertyDocument is the persisted form of a Property or Relation
type PropertyDocument struct {
	Name     string            `yaml:"name" json:"name" bson:"name" validate:"required"`
	Column   string            `yaml:"column" json:"column" bson:"column" validate:"required"`
	Type     DbType            `yaml:"type" json:"type" bson:"type"`
	SqlType  string            `yaml:"sql_type,omitempty" json:"sql_type,omitempty" bson:"sql_type,omitempty"`
	Nullable bool              `yaml:"nullable,omitempty" json:"nullable,omitempty" bson:"nullable,omitempty"`
	Length   int               `yaml:"length,omitempty" json:"length,omitempty" bson:"length,omitempty" validate:"gte=0"`
	Default  string            `yaml:"default,omitempty" json:"default,omitempty" bson:"default,omitempty"`
	Unique   bool              `yaml:"unique,omitempty" json:"unique,omitempty" bson:"unique,omitempty"`
	Identity bool              `yaml:"identity,omitempty" json:"identity,omitempty" bson:"identity,omitempty"`
	Relation *RelationDocument `yaml:"relation,omitempty" json:"relation,omitempty" bson:"relation,omitempty"`
}

// RelationDocument holds the relation fields of a PropertyDocument
type RelationDocument struct {
	Kind               RelationKind `yaml:"kind" json:"kind" bson:"kind" validate:"required,oneof=many_to_one one_to_many many_to_many"`
	ReferenceTable     string       `yaml:"reference_table,omitempty" json:"reference_table,omitempty" bson:"reference_table,omitempty"`
	ReferenceEntity    string       `yaml:"reference_entity,omitempty" json:"reference_entity,omitempty" bson:"reference_entity,omitempty"`
	ReferenceColumn    string       `yaml:"reference_column" json:"reference_column" bson:"reference_column" validate:"required"`
	ConstraintName     string       `yaml:"constraint_name,omitempty" json:"constraint_name,omitempty" bson:"constraint_name,omitempty"`
	LazyLoad           bool         `yaml:"lazy_load,omitempty" json:"lazy_load,omitempty" bson:"lazy_load,omitempty"`
	MapTable           string       `yaml:"map_table,omitempty" json:"map_table,omitempty" bson:"map_table,omitempty" validate:"required_if=Kind many_to_many"`
	MapColumn          string       `yaml:"map_column,omitempty" json:"map_column,omitempty" bson:"map_column,omitempty" validate:"required_if=Kind many_to_many"`
	MapReferenceColumn string       `yaml:"map_reference_column,omitempty" json:"map_reference_column,omitempty" bson:"map_reference_column,omitempty" validate:"required_if=Kind many_to_many"`
}

// ComplexTypeDocument is the persisted form of a ComplexType
type ComplexTypeDocument struct {
	Name       string             `yaml:"name" json:"name" bson:"name" validate:"required"`
	Properties []PropertyDocument `yaml:"properties" json:"properties" bson:"properties" validate:"dive"`
}

// Document converts the configuration to its persisted form
func (c *MapConfig) Document() MapDocument {
	doc := MapDocument{
		Settings:   c.Settings,
		Statements: append([]string(nil), c.UnprocessedStatements...),
	}
	for _, e := range c.entities {
		ed := EntityDocument{
			Name:      e.Name,
			Table:     e.TableName,
			Schema:    e.SchemaName,
			Namespace: e.Namespace,
			Alias:     e.TableAlias,
			Extends:   e.Extends,
			LinkTable: e.IsLinkTable,
		}
		if e.PrimaryKey != nil && len(e.PrimaryKey.Columns) > 0 {
			ed.PrimaryKey = &KeyDocument{
				Columns:   append([]string(nil), e.PrimaryKey.Columns...),
				Generator: e.PrimaryKey.Generator,
			}
		}
		for _, m := range e.members {
			ed.Properties = append(ed.Properties, memberDocument(m))
		}
		doc.Entities = append(doc.Entities, ed)
	}
	for _, ct := range c.ComplexTypes {
		cd := ComplexTypeDocument{Name: ct.Name}
		for _, p := range ct.Properties {
			cd.Properties = append(cd.Properties, memberDocument(p))
		}
		doc.ComplexTypes = append(doc.ComplexTypes, cd)
	}
	return doc
}

func memberDocument(m Member) PropertyDocument {
	p := m.Base()
	pd := PropertyDocument{
		Name:     p.Name,
		Column:   p.ColumnName,
		Type:     p.DbType,
		SqlType:  p.SqlType,
		Nullable: p.Nullable,
		Length:   p.Length,
		Default:  p.DefaultValue,
		Unique:   p.Unique,
		Identity: p.Identity,
	}
	if r, ok := m.(*Relation); ok {
		pd.Relation = &RelationDocument{
			Kind:               r.Kind,
			ReferenceTable:     r.ReferenceTable,
			ReferenceEntity:    r.ReferenceEntity,
			ReferenceColumn:    r.ReferenceColumn,
			ConstraintName:     r.ConstraintName,
			LazyLoad:           r.LazyLoad,
			MapTable:           r.MapTable,
			MapColumn:          r.MapColumn,
			MapReferenceColumn: r.MapReferenceColumn,
		}
	}
	return pd
}

func (pd PropertyDocument) property() Property {
	return Property{
		Name:         pd.Name,
		ColumnName:   pd.Column,
		DbType:       pd.Type,
		SqlType:      pd.SqlType,
		Nullable:     pd.Nullable,
		Length:       pd.Length,
		DefaultValue: pd.Default,
		Unique:       pd.Unique,
		Identity:     pd.Identity,
	}
}

func (pd PropertyDocument) member() Member {
	if pd.Relation == nil {
		p := pd.property()
		return &p
	}
	rd := pd.Relation
	return &Relation{
		Property:           pd.property(),
		Kind:               rd.Kind,
		ReferenceTable:     rd.ReferenceTable,
		ReferenceEntity:    rd.ReferenceEntity,
		ReferenceColumn:    rd.ReferenceColumn,
		ConstraintName:     rd.ConstraintName,
		LazyLoad:           rd.LazyLoad,
		MapTable:           rd.MapTable,
		MapColumn:          rd.MapColumn,
		MapReferenceColumn: rd.MapReferenceColumn,
	}
}

// Validate checks the document's field constraints
func (d MapDocument) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return NewErrorWithCause(ErrorTypeValidation, "invalid map document", err)
	}
	return nil
}

// Config builds a MapConfig from the document. References are not resolved;
// call Resolve or Freeze on the result.
func (d MapDocument) Config() (*MapConfig, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	cfg := NewMapConfig(d.Settings)
	cfg.UnprocessedStatements = append([]string(nil), d.Statements...)
	for _, ed := range d.Entities {
		e := NewEntityMap(ed.Name, ed.Table)
		e.SchemaName = ed.Schema
		e.Namespace = ed.Namespace
		e.TableAlias = ed.Alias
		e.Extends = ed.Extends
		e.IsLinkTable = ed.LinkTable
		if ed.PrimaryKey != nil {
			e.PrimaryKey = &PrimaryKey{
				Columns:   append([]string(nil), ed.PrimaryKey.Columns...),
				Generator: ed.PrimaryKey.Generator,
			}
		}
		for _, pd := range ed.Properties {
			if err := e.Add(pd.member()); err != nil {
				return nil, err
			}
		}
		if err := cfg.Add(e); err != nil {
			return nil, err
		}
	}
	for _, cd := range d.ComplexTypes {
		ct := &ComplexType{Name: cd.Name}
		for _, pd := range cd.Properties {
			p := pd.property()
			ct.Properties = append(ct.Properties, &p)
		}
		cfg.ComplexTypes = append(cfg.ComplexTypes, ct)
	}
	return cfg, nil
}

// =====================================
// YAML Persistence
// =====================================

// LoadMapConfig decodes a YAML map document
func LoadMapConfig(r io.Reader) (*MapConfig, error) {
	var doc MapDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, NewErrorWithCause(ErrorTypeSerialization, "failed to decode map document", err)
	}
	return doc.Config()
}

// Save encodes the configuration as a YAML map document. A document that
// would not load again is a validation error and nothing is written.
func (c *MapConfig) Save(w io.Writer) error {
	doc := c.Document()
	if err := doc.Validate(); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return NewErrorWithCause(ErrorTypeSerialization, "failed to encode map document", err)
	}
	return enc.Close()
}

// MarshalMapConfig returns the YAML form of a configuration
func MarshalMapConfig(c *MapConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMapConfig decodes the YAML form of a configuration
func UnmarshalMapConfig(data []byte) (*MapConfig, error) {
	return LoadMapConfig(bytes.NewReader(data))
}

// ReadMapFile loads a map document from a file
func ReadMapFile(path string) (*MapConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewErrorWithCause(ErrorTypeNotFound, fmt.Sprintf("map file %s not found", path), err)
		}
		return nil, NewErrorWithCause(ErrorTypeInvalidArgument, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()
	return LoadMapConfig(f)
}

// WriteMapFile saves a map document to a file, replacing it
func WriteMapFile(path string, c *MapConfig) error {
	data, err := MarshalMapConfig(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return NewErrorWithCause(ErrorTypeInternal, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// =====================================
// Map Stores
// =====================================

// MapStore keeps map configurations by project name
type MapStore interface {
	Load(ctx context.Context, name string) (*MapConfig, error)
	Save(ctx context.Context, name string, c *MapConfig) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// FileStore keeps one YAML file per project in a directory
type FileStore struct {
	Dir string
}

// NewFileStore creates a store over dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

const mapFileExt = ".yaml"

func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", NewError(ErrorTypeInvalidArgument, fmt.Sprintf("invalid map name %q", name))
	}
	return filepath.Join(s.Dir, name+mapFileExt), nil
}

func (s *FileStore) Load(_ context.Context, name string) (*MapConfig, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return ReadMapFile(path)
}

func (s *FileStore) Save(_ context.Context, name string, c *MapConfig) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return NewErrorWithCause(ErrorTypeInternal, fmt.Sprintf("failed to create %s", s.Dir), err)
	}
	return WriteMapFile(path, c)
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewErrorWithCause(ErrorTypeNotFound, fmt.Sprintf("map %s not found", name), err)
		}
		return NewErrorWithCause(ErrorTypeInternal, fmt.Sprintf("failed to delete %s", path), err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, NewErrorWithCause(ErrorTypeInternal, fmt.Sprintf("failed to list %s", s.Dir), err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), mapFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), mapFileExt))
	}
	sort.Strings(names)
	return names, nil
}

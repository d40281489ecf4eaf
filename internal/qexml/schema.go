package qexml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/spf13/afero"
)

const DefaultSchemaName = "qes-1.0.xsd"

// Schema is a loaded XSD, compiled down to the content models lax validation
// needs: which children and attributes each named type declares, and which of
// them are required.
type Schema struct {
	Name            string
	TargetNamespace string
	Version         string

	roots map[string]string // element name -> type name
	types map[string]*contentModel
}

type contentModel struct {
	children map[string]childDecl
	attrs    map[string]bool // name -> required
}

type childDecl struct {
	typeName string
	required bool
}

type xsdDocument struct {
	XMLName         xml.Name         `xml:"schema"`
	TargetNamespace string           `xml:"targetNamespace,attr"`
	Version         string           `xml:"version,attr"`
	Elements        []xsdElement     `xml:"element"`
	ComplexTypes    []xsdComplexType `xml:"complexType"`
}

type xsdElement struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	MinOccurs string `xml:"minOccurs,attr"`
}

type xsdGroup struct {
	Elements  []xsdElement `xml:"element"`
	Sequences []xsdGroup   `xml:"sequence"`
	Choices   []xsdGroup   `xml:"choice"`
}

type xsdAttribute struct {
	Name string `xml:"name,attr"`
	Use  string `xml:"use,attr"`
}

type xsdComplexType struct {
	Name          string         `xml:"name,attr"`
	Sequence      *xsdGroup      `xml:"sequence"`
	All           *xsdGroup      `xml:"all"`
	Choice        *xsdGroup      `xml:"choice"`
	Attributes    []xsdAttribute `xml:"attribute"`
	SimpleContent *struct {
		Extension *struct {
			Attributes []xsdAttribute `xml:"attribute"`
		} `xml:"extension"`
	} `xml:"simpleContent"`
}

// ParseSchema compiles an XSD document.
func ParseSchema(name string, raw []byte) (*Schema, error) {
	var doc xsdDocument
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse xsd %s: %w", name, err)
	}
	if len(doc.Elements) == 0 {
		return nil, fmt.Errorf("parse xsd %s: no top-level element declared", name)
	}

	s := &Schema{
		Name:            name,
		TargetNamespace: doc.TargetNamespace,
		Version:         doc.Version,
		roots:           make(map[string]string, len(doc.Elements)),
		types:           make(map[string]*contentModel, len(doc.ComplexTypes)),
	}
	for _, el := range doc.Elements {
		s.roots[el.Name] = localName(el.Type)
	}

	for _, ct := range doc.ComplexTypes {
		m := &contentModel{children: map[string]childDecl{}, attrs: map[string]bool{}}
		if ct.Sequence != nil {
			m.addGroup(*ct.Sequence, true)
		}
		if ct.All != nil {
			m.addGroup(*ct.All, true)
		}
		if ct.Choice != nil {
			m.addGroup(*ct.Choice, false)
		}
		attrs := ct.Attributes
		if ct.SimpleContent != nil && ct.SimpleContent.Extension != nil {
			attrs = append(attrs, ct.SimpleContent.Extension.Attributes...)
		}
		for _, a := range attrs {
			m.attrs[a.Name] = a.Use == "required"
		}
		s.types[ct.Name] = m
	}
	return s, nil
}

// addGroup registers the elements of a model group. Elements under a choice
// are never individually required.
func (m *contentModel) addGroup(g xsdGroup, required bool) {
	for _, el := range g.Elements {
		m.children[el.Name] = childDecl{
			typeName: localName(el.Type),
			required: required && el.MinOccurs != "0",
		}
	}
	for _, seq := range g.Sequences {
		m.addGroup(seq, required)
	}
	for _, ch := range g.Choices {
		m.addGroup(ch, false)
	}
}

func localName(qname string) string {
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

// Resolver locates the schema a document declares, falling back to a fixed
// default schema. Loaded schemas are cached; Resolver is safe for concurrent
// use.
type Resolver struct {
	fs          afero.Fs
	dir         string
	defaultName string
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]*Schema
}

func NewResolver(fs afero.Fs, dir, defaultName string, logger *slog.Logger) *Resolver {
	if defaultName == "" {
		defaultName = DefaultSchemaName
	}
	return &Resolver{
		fs:          fs,
		dir:         dir,
		defaultName: defaultName,
		logger:      logger.With("component", "schema_resolver"),
		cache:       make(map[string]*Schema),
	}
}

// Resolve returns the schema referenced by the document's xsi:schemaLocation.
// Any failure to retrieve it falls back to the default schema; if that one
// cannot be loaded either, domain.ErrSchemaUnavailable is returned.
func (r *Resolver) Resolve(doc *Document) (*Schema, error) {
	name, err := schemaFileName(doc.SchemaLocation)
	if err == nil {
		s, loadErr := r.load(name)
		if loadErr == nil {
			return s, nil
		}
		err = loadErr
	}
	r.logger.Warn("document schema unavailable, using default", "schema_location", doc.SchemaLocation, "default", r.defaultName, "error", err)

	return r.Default()
}

// Default loads the default schema.
func (r *Resolver) Default() (*Schema, error) {
	s, err := r.load(r.defaultName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSchemaUnavailable, r.defaultName, err)
	}
	return s, nil
}

func (r *Resolver) load(name string) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[name]; ok {
		return s, nil
	}

	raw, err := afero.ReadFile(r.fs, path.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := ParseSchema(name, raw)
	if err != nil {
		return nil, err
	}
	r.cache[name] = s
	return s, nil
}

// schemaFileName extracts the file name of the schema document from an
// xsi:schemaLocation value ("namespace location" pairs; the last location wins).
func schemaFileName(location string) (string, error) {
	fields := strings.Fields(location)
	if len(fields) == 0 {
		return "", errors.New("document declares no schema location")
	}
	ref := fields[len(fields)-1]

	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if !strings.HasSuffix(name, ".xsd") {
		return "", fmt.Errorf("malformed schema location %q", ref)
	}
	return name, nil
}

// CheckDefault reports whether the default schema can be loaded.
func (r *Resolver) CheckDefault() error {
	_, err := r.Default()
	return err
}

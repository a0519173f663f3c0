package ipfix

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// MinDataSetID is the lowest set ID usable for data sets; lower values are
// reserved by RFC 7011 for template and options sets.
const MinDataSetID = 256

// FieldSpec is one column of a template: which information element appears
// at this position and how many bytes it occupies on the wire.
type FieldSpec struct {
	Name             string
	ID               uint16
	Length           uint16
	EnterpriseNumber uint32
}

// FieldDef is the declarative input to BuildTemplateSet: an element name
// and an optional length. Zero length means "use the canonical length";
// any other value must match it.
type FieldDef struct {
	Name   string `yaml:"name"`
	Length uint16 `yaml:"length,omitempty"`
}

// TemplateSet is an ordered field layout published under one set ID.
type TemplateSet struct {
	ID     uint16
	Fields []FieldSpec
}

// Template is the schema driving serialization: an ordered sequence of
// template sets, each producing one data set per exported message.
type Template struct {
	Sets []TemplateSet
}

// BuildTemplateSet validates a declarative field list against the closed
// information-element enumeration and the canonical lengths.
func BuildTemplateSet(id uint16, defs []FieldDef) (TemplateSet, error) {
	if id < MinDataSetID {
		return TemplateSet{}, fmt.Errorf("template set ID %d is reserved, must be >= %d", id, MinDataSetID)
	}
	ts := TemplateSet{ID: id, Fields: make([]FieldSpec, 0, len(defs))}
	for _, def := range defs {
		ie, err := LookupIE(def.Name)
		if err != nil {
			return TemplateSet{}, err
		}
		if def.Length != 0 && def.Length != ie.Length {
			return TemplateSet{}, fmt.Errorf("field %s: length %d does not match canonical length %d",
				def.Name, def.Length, ie.Length)
		}
		ts.Fields = append(ts.Fields, FieldSpec{Name: ie.Name, ID: ie.ID, Length: ie.Length})
	}
	return ts, nil
}

// DefaultTemplate returns the built-in nine-field flow template under set
// ID 256.
func DefaultTemplate() *Template {
	ts, err := BuildTemplateSet(MinDataSetID, []FieldDef{
		{Name: "sourceIPv4Address"},
		{Name: "destinationIPv4Address"},
		{Name: "protocolIdentifier"},
		{Name: "sourceTransportPort"},
		{Name: "destinationTransportPort"},
		{Name: "flowStartMilliseconds"},
		{Name: "flowEndMilliseconds"},
		{Name: "octetDeltaCount"},
		{Name: "packetDeltaCount"},
	})
	if err != nil {
		// the built-in definition only references table entries
		panic(err)
	}
	return &Template{Sets: []TemplateSet{ts}}
}

type templateFile struct {
	Templates []struct {
		ID       uint16     `yaml:"id"`
		Template []FieldDef `yaml:"template"`
	} `yaml:"templates"`
}

// LoadTemplateFile reads a YAML template definition:
//
//	templates:
//	- id: 256
//	  template:
//	  - name: sourceIPv4Address
//	  - name: destinationIPv4Address
func LoadTemplateFile(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	var tf templateFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parsing template file: %w", err)
	}
	if len(tf.Templates) == 0 {
		return nil, fmt.Errorf("template file %s defines no templates", path)
	}
	t := &Template{}
	for _, def := range tf.Templates {
		ts, err := BuildTemplateSet(def.ID, def.Template)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", def.ID, err)
		}
		t.Sets = append(t.Sets, ts)
	}
	return t, nil
}

// RecordLength is the wire size of one flow record encoded against this
// set: the sum of its field lengths.
func (ts *TemplateSet) RecordLength() int {
	length := 0
	for i := range ts.Fields {
		length += int(ts.Fields[i].Length)
	}
	return length
}

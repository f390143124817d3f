// Package poem defines the records returned by the Sou-Yun open poem API
// and their line-oriented JSON encoding.
package poem

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Clause is a single line of a poem.
type Clause struct {
	Content        string `json:"Content"`
	TonesSpecified bool   `json:"TonesSpecified"`
}

// Poem is one harvested record.
//
// Optional fields are pointers: a nil field was not supplied by the remote
// source and is encoded as JSON null, never as a zero value.
type Poem struct {
	Author                           *string  `json:"Author"`
	AuthorID                         *uint32  `json:"AuthorId"`
	AuthorIDSpecified                *bool    `json:"AuthorIdSpecified"`
	Dynasty                          *string  `json:"Dynasty"`
	ID                               uint32   `json:"Id"`
	GroupIndex                       *uint32  `json:"GroupIndex"`
	GroupIndexSpecified              *bool    `json:"GroupIndexSpecified"`
	IsTwoClausesPerSentence          *bool    `json:"IsTwoClausesPerSentence"`
	IsTwoClausesPerSentenceSpecified *bool    `json:"IsTwoClausesPerSentenceSpecified"`
	Note                             *string  `json:"Note"`
	Preface                          *string  `json:"Preface"`
	Rhyme                            *string  `json:"Rhyme"`
	TuneIDSpecified                  *bool    `json:"TuneIdSpecified"`
	Type                             *string  `json:"Type"`
	TypeDetail                       *string  `json:"TypeDetail"`
	Clauses                          []Clause `json:"Clauses"`
}

// Envelope is the response wrapper of the poem endpoint.
// In practice it holds at most one poem keyed by the requested ID.
type Envelope struct {
	ShiData []Poem `json:"ShiData"`
}

// IDs returns the IDs of all poems in the envelope, in order.
func (e *Envelope) IDs() []uint32 {
	ids := make([]uint32, 0, len(e.ShiData))
	for _, p := range e.ShiData {
		ids = append(ids, p.ID)
	}
	return ids
}

// object is one JSON object keyed by exact field name.
type object map[string]json.RawMessage

func decodeObject(data []byte) (object, error) {
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	return o, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// required decodes key into dst; a missing or null value is an error.
func (o object) required(key string, dst any) error {
	raw, ok := o[key]
	if !ok {
		return fmt.Errorf("missing %s", key)
	}
	if isNull(raw) {
		return fmt.Errorf("%s is null", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// optional decodes key into dst when present and not null.
func (o object) optional(key string, dst any) error {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// Decode parses a response body into an envelope.
//
// Field names match exactly; unknown fields are ignored. ShiData, every
// poem's Id and Clauses, and every clause's Content and TonesSpecified are
// required and may not be null. Absent optional fields stay nil.
func Decode(data []byte) (*Envelope, error) {
	top, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var items []json.RawMessage
	if err := top.required("ShiData", &items); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	env := &Envelope{ShiData: make([]Poem, 0, len(items))}
	for i, item := range items {
		p, err := decodePoem(item)
		if err != nil {
			return nil, fmt.Errorf("decode poem %d: %w", i, err)
		}
		env.ShiData = append(env.ShiData, p)
	}

	return env, nil
}

func decodePoem(data []byte) (Poem, error) {
	var p Poem
	o, err := decodeObject(data)
	if err != nil {
		return p, err
	}

	if err := o.required("Id", &p.ID); err != nil {
		return p, err
	}

	optional := []struct {
		key string
		dst any
	}{
		{"Author", &p.Author},
		{"AuthorId", &p.AuthorID},
		{"AuthorIdSpecified", &p.AuthorIDSpecified},
		{"Dynasty", &p.Dynasty},
		{"GroupIndex", &p.GroupIndex},
		{"GroupIndexSpecified", &p.GroupIndexSpecified},
		{"IsTwoClausesPerSentence", &p.IsTwoClausesPerSentence},
		{"IsTwoClausesPerSentenceSpecified", &p.IsTwoClausesPerSentenceSpecified},
		{"Note", &p.Note},
		{"Preface", &p.Preface},
		{"Rhyme", &p.Rhyme},
		{"TuneIdSpecified", &p.TuneIDSpecified},
		{"Type", &p.Type},
		{"TypeDetail", &p.TypeDetail},
	}
	for _, f := range optional {
		if err := o.optional(f.key, f.dst); err != nil {
			return p, err
		}
	}

	var clauses []json.RawMessage
	if err := o.required("Clauses", &clauses); err != nil {
		return p, err
	}
	p.Clauses = make([]Clause, 0, len(clauses))
	for j, raw := range clauses {
		c, err := decodeClause(raw)
		if err != nil {
			return p, fmt.Errorf("clause %d: %w", j, err)
		}
		p.Clauses = append(p.Clauses, c)
	}

	return p, nil
}

func decodeClause(data []byte) (Clause, error) {
	var c Clause
	o, err := decodeObject(data)
	if err != nil {
		return c, err
	}
	if err := o.required("Content", &c.Content); err != nil {
		return c, err
	}
	if err := o.required("TonesSpecified", &c.TonesSpecified); err != nil {
		return c, err
	}
	return c, nil
}

// EncodeLine serializes the envelope as a single JSON line terminated by '\n'.
func EncodeLine(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope cannot be nil")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode appends the trailing newline and never emits one inside the value.
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

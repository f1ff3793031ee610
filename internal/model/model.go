// Package model holds the analysis result shapes returned by the remote
// analysis service, one per analysis mode.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Mode selects the analysis pipeline and the dashboard layout.
type Mode string

const (
	ModeStructure Mode = "structure"
	ModePersona   Mode = "persona"
)

// ParseMode validates a mode value coming from a form field.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStructure, ModePersona:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Heading levels emitted by the structure extractor.
const (
	LevelTitle = "TITLE"
	LevelH1    = "H1"
	LevelH2    = "H2"
	LevelH3    = "H3"
	LevelBody  = "BODY"
)

// DefaultLang is the script tag that is never displayed.
const DefaultLang = "LATIN"

// Result is the union of StructureResult and PersonaResult.
type Result interface {
	Explainability() *Explainability
}

// StructureResult is the outline extracted from a single document.
type StructureResult struct {
	Title       string          `json:"title"`
	Outline     []Heading       `json:"outline"`
	Explanation *Explainability `json:"explainability_and_compliance,omitempty"`
}

// Explainability returns the judges block, or nil when absent.
func (r *StructureResult) Explainability() *Explainability {
	if r == nil {
		return nil
	}
	return r.Explanation
}

// PersonaResult ranks the sections of a document for a persona and job.
type PersonaResult struct {
	Metadata    *Metadata       `json:"Metadata,omitempty"`
	Sections    []Section       `json:"Extracted Sections"`
	Subsections []SubAnalysis   `json:"Sub-section Analysis"`
	Explanation *Explainability `json:"explainability_and_compliance,omitempty"`
}

// Explainability returns the judges block, or nil when absent.
func (r *PersonaResult) Explainability() *Explainability {
	if r == nil {
		return nil
	}
	return r.Explanation
}

// Metadata echoes the request a persona result was produced for.
type Metadata struct {
	SourceFile  string `json:"source_file,omitempty"`
	Persona     string `json:"persona"`
	JobToBeDone string `json:"job_to_be_done"`
}

// Heading is one outline entry. Page is 1-based.
type Heading struct {
	Level       string   `json:"level"`
	Text        string   `json:"text"`
	Page        int      `json:"page"`
	Lang        string   `json:"lang,omitempty"`
	Explanation []string `json:"explanation,omitempty"`
}

// Section is an extracted section. A nil Similarity means no score was given.
type Section struct {
	Level          string   `json:"level"`
	Text           string   `json:"text"`
	Page           int      `json:"page"`
	ImportanceRank int      `json:"importance_rank,omitempty"`
	Similarity     *float64 `json:"similarity,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
}

// SubAnalysis holds the refined highlights of one section.
type SubAnalysis struct {
	Section    string      `json:"section"`
	Highlights []Highlight `json:"highlights"`
	Summary    []string    `json:"summary"`
}

// Highlight is a passage picked out of a section.
type Highlight struct {
	Text        string   `json:"text"`
	Similarity  *float64 `json:"similarity,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// Explainability is the heuristics/compliance block shown in Judges Mode.
// Compliance keeps the key order of the source object, and the raw object
// is retained so it can be exported without re-shaping.
type Explainability struct {
	Heuristics     []string
	Compliance     *orderedmap.OrderedMap[string, any]
	SignalsSummary string

	raw json.RawMessage
}

type explainabilityWire struct {
	Heuristics     []string                            `json:"heuristics"`
	Compliance     *orderedmap.OrderedMap[string, any] `json:"compliance"`
	SignalsSummary string                              `json:"signals_summary"`
}

func (e *Explainability) UnmarshalJSON(data []byte) error {
	var w explainabilityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode explainability: %w", err)
	}
	e.Heuristics = w.Heuristics
	e.Compliance = w.Compliance
	e.SignalsSummary = w.SignalsSummary
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e *Explainability) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(explainabilityWire{
		Heuristics:     e.Heuristics,
		Compliance:     e.Compliance,
		SignalsSummary: e.SignalsSummary,
	})
}

// Indented returns the explainability object as 2-space indented JSON.
func (e *Explainability) Indented() ([]byte, error) {
	src, err := e.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, src, "", "  "); err != nil {
		return nil, fmt.Errorf("indent explainability: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResult decodes the "output" object of an analysis response.
func DecodeResult(mode Mode, raw json.RawMessage) (Result, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	switch mode {
	case ModeStructure:
		var r StructureResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode structure result: %w", err)
		}
		return &r, nil
	case ModePersona:
		var r PersonaResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode persona result: %w", err)
		}
		return &r, nil
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

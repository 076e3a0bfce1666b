package models

import (
	"bytes"
	"encoding/json"
)

// FunctionalSpec is the expected shape of the definition agent's response.
type FunctionalSpec struct {
	Epics    []Epic   `json:"epics"`
	Entities []Entity `json:"entities,omitempty"`
}

// Epic groups features under a named backlog item.
type Epic struct {
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// Entity describes a data-model entity proposed by the definition agent.
type Entity struct {
	Name          string         `json:"name"`
	Properties    []string       `json:"properties,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Relationship links one entity to another.
type Relationship struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

// TestPlan is the expected shape of the test-planning agent's response.
// TestCases maps a suite/section name to its cases. Older agent revisions
// returned a flat list of case names instead of sections; UnmarshalJSON
// folds that shape into a single unnamed section.
type TestPlan struct {
	Name      string                `json:"name"`
	TestCases map[string][]TestCase `json:"test_cases"`

	// SectionOrder preserves the JSON key order of TestCases so rendered
	// output is stable across runs.
	SectionOrder []string `json:"-"`
}

// TestCase is a single named test with a short description. Agents sometimes
// emit bare strings for cases; UnmarshalJSON accepts both forms.
type TestCase struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts either a {"name":..,"description":..} object or a
// bare string.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		tc.Name = s
		tc.Description = ""
		return nil
	}
	type plain TestCase
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*tc = TestCase(p)
	return nil
}

// UnmarshalJSON handles both the sectioned object form and the legacy flat
// list form of "test_cases", and records the section key order.
func (tp *TestPlan) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		TestCases json.RawMessage `json:"test_cases"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tp.Name = raw.Name
	tp.TestCases = nil
	tp.SectionOrder = nil
	if len(raw.TestCases) == 0 {
		return nil
	}

	var sections map[string][]TestCase
	if err := json.Unmarshal(raw.TestCases, &sections); err == nil {
		tp.TestCases = sections
		tp.SectionOrder = sectionKeyOrder(raw.TestCases)
		return nil
	}

	// Legacy shape: a flat list of cases.
	var flat []TestCase
	if err := json.Unmarshal(raw.TestCases, &flat); err != nil {
		return err
	}
	if len(flat) > 0 {
		tp.TestCases = map[string][]TestCase{"Test Cases": flat}
		tp.SectionOrder = []string{"Test Cases"}
	}
	return nil
}

// sectionKeyOrder extracts top-level object keys in their JSON order.
func sectionKeyOrder(data json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// Cases flattens the plan's sections in order into (section, case) pairs.
func (tp *TestPlan) Cases() []SectionedCase {
	var out []SectionedCase
	for _, section := range tp.Sections() {
		for _, tc := range tp.TestCases[section] {
			out = append(out, SectionedCase{Section: section, Case: tc})
		}
	}
	return out
}

// Sections returns section names in stable order.
func (tp *TestPlan) Sections() []string {
	if len(tp.SectionOrder) == len(tp.TestCases) {
		return tp.SectionOrder
	}
	// Fallback when the plan was built in code rather than decoded.
	keys := make([]string, 0, len(tp.TestCases))
	for k := range tp.TestCases {
		keys = append(keys, k)
	}
	return keys
}

// SectionedCase pairs a test case with the section it belongs to.
type SectionedCase struct {
	Section string
	Case    TestCase
}

// Review is the expected shape of the reviewer agent's response.
type Review struct {
	ReviewFeedback   string   `json:"review_feedback"`
	SuggestionsIntro string   `json:"actionable_suggestions_message_presentation"`
	Suggestions      []string `json:"actionable_suggestions"`
}

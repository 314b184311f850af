// Package taxonomy loads the MITRE ATT&CK reference dataset into the lookup
// structures the identifiers match against: technique ID to name, the set of
// known malware names, and malware name to technique descriptors.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Taxonomy holds the ATT&CK lookups. It is built once at startup and must be
// treated as read-only afterwards; concurrent reads are safe.
type Taxonomy struct {
	// Techniques maps a canonical technique ID (e.g. "T1059") to its name.
	Techniques map[string]string
	// MalwareNames is the set of known malware names, lowercased.
	// Matching downstream is case-insensitive.
	MalwareNames map[string]struct{}
	// MalwareTTPs maps a lowercased malware name to its associated
	// technique descriptors, each formatted "Txxxx – Name".
	MalwareTTPs map[string][]string

	// DegradedReason is non-empty when the dataset could not be loaded and
	// the taxonomy is empty. Matching still works, it just finds nothing.
	DegradedReason string
}

// Degraded reports whether the taxonomy was loaded in degraded (empty) mode.
func (t *Taxonomy) Degraded() bool {
	return t.DegradedReason != ""
}

// Empty returns a usable but empty taxonomy carrying the degraded reason.
func Empty(reason string) *Taxonomy {
	return &Taxonomy{
		Techniques:     map[string]string{},
		MalwareNames:   map[string]struct{}{},
		MalwareTTPs:    map[string][]string{},
		DegradedReason: reason,
	}
}

// STIX bundle subset. Only the fields the builder reads are declared.
type bundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	RelationshipType   string              `json:"relationship_type"`
	SourceRef          string              `json:"source_ref"`
	TargetRef          string              `json:"target_ref"`
	ExternalReferences []externalReference `json:"external_references"`
}

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
}

// Parse builds a Taxonomy from raw enterprise-attack bundle JSON.
func Parse(data []byte) (*Taxonomy, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("taxonomy: unmarshal bundle: %w", err)
	}
	if len(b.Objects) == 0 {
		return nil, fmt.Errorf("taxonomy: bundle has no objects")
	}
	return build(&b), nil
}

// build makes three passes over the bundle: techniques, malware, then "uses"
// relationships between them. Relationships referencing unknown techniques
// are skipped.
func build(b *bundle) *Taxonomy {
	t := &Taxonomy{
		Techniques:   make(map[string]string),
		MalwareNames: make(map[string]struct{}),
		MalwareTTPs:  make(map[string][]string),
	}

	// Indexed by STIX id, needed to resolve relationship targets.
	type technique struct {
		id   string
		name string
	}
	byStixID := make(map[string]technique)
	malwareByStixID := make(map[string]string)

	for _, obj := range b.Objects {
		switch obj.Type {
		case "attack-pattern":
			id := mitreExternalID(obj.ExternalReferences)
			if id == "" {
				continue
			}
			t.Techniques[id] = obj.Name
			byStixID[obj.ID] = technique{id: id, name: obj.Name}
		case "malware":
			if obj.Name == "" {
				continue
			}
			t.MalwareNames[strings.ToLower(obj.Name)] = struct{}{}
			malwareByStixID[obj.ID] = obj.Name
		}
	}

	for _, obj := range b.Objects {
		if obj.Type != "relationship" || obj.RelationshipType != "uses" {
			continue
		}
		if !strings.HasPrefix(obj.SourceRef, "malware--") {
			continue
		}
		tech, ok := byStixID[obj.TargetRef]
		if !ok {
			continue
		}
		name, ok := malwareByStixID[obj.SourceRef]
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		t.MalwareTTPs[key] = append(t.MalwareTTPs[key], fmt.Sprintf("%s – %s", tech.id, tech.name))
	}

	return t
}

// mitreExternalID returns the canonical technique ID from the mitre-attack
// external reference, or "" if the object has none.
func mitreExternalID(refs []externalReference) string {
	for _, r := range refs {
		if r.SourceName == "mitre-attack" {
			return r.ExternalID
		}
	}
	return ""
}

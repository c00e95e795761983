package domain

import "strconv"

// PatternKind tags a piece of per-account evidence.
type PatternKind int

// Evidence kinds, in the order they are reported.
const (
	PatternCycle PatternKind = iota
	PatternSmurfingFanIn
	PatternSmurfingFanOut
	PatternShellLayering
)

var patternKindNames = [...]string{
	PatternCycle:          "cycle",
	PatternSmurfingFanIn:  "smurfing_fanin",
	PatternSmurfingFanOut: "smurfing_fanout",
	PatternShellLayering:  "shell_layering",
}

func (k PatternKind) String() string {
	if k < 0 || int(k) >= len(patternKindNames) {
		return "unknown"
	}
	return patternKindNames[k]
}

// RingType returns the ring pattern type the evidence kind groups into.
func (k PatternKind) RingType() RingType {
	switch k {
	case PatternCycle:
		return RingCycle
	case PatternSmurfingFanIn, PatternSmurfingFanOut:
		return RingSmurfing
	default:
		return RingShell
	}
}

// Evidence is one detector finding attached to an account.
type Evidence struct {
	Kind      PatternKind
	Magnitude int
}

// String flattens the evidence into its wire form, e.g. "cycle:2".
func (e Evidence) String() string {
	return e.Kind.String() + ":" + strconv.Itoa(e.Magnitude)
}

// RingType is the pattern a fraud ring was formed by.
type RingType string

// Ring pattern types in ring-id assignment order.
const (
	RingCycle    RingType = "cycle"
	RingSmurfing RingType = "smurfing"
	RingShell    RingType = "shell"
)

// RingTypes lists every ring type in ring-id assignment order.
var RingTypes = []RingType{RingCycle, RingSmurfing, RingShell}

// Priority orders ring types for tie breaks; lower wins.
func (t RingType) Priority() int {
	switch t {
	case RingCycle:
		return 0
	case RingSmurfing:
		return 1
	case RingShell:
		return 2
	default:
		return 3
	}
}

// EvidenceSet accumulates evidence for one account, one slot per kind.
type EvidenceSet [len(patternKindNames)]int

// Add accumulates magnitude for kind.
func (s *EvidenceSet) Add(kind PatternKind, magnitude int) {
	s[kind] += magnitude
}

// Raise keeps the larger of the current and the given magnitude.
func (s *EvidenceSet) Raise(kind PatternKind, magnitude int) {
	if magnitude > s[kind] {
		s[kind] = magnitude
	}
}

// Get returns the magnitude recorded for kind.
func (s *EvidenceSet) Get(kind PatternKind) int {
	return s[kind]
}

// Empty reports whether no evidence was recorded.
func (s *EvidenceSet) Empty() bool {
	for _, m := range s {
		if m > 0 {
			return false
		}
	}
	return true
}

// List returns the non-zero evidence in kind order.
func (s *EvidenceSet) List() []Evidence {
	var out []Evidence
	for k, m := range s {
		if m > 0 {
			out = append(out, Evidence{Kind: PatternKind(k), Magnitude: m})
		}
	}
	return out
}

package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Status tracks where a concept node is in the decomposition pass.
// A node's status is monotonic: StatusExpand moves to exactly one of
// StatusGrounded or StatusSynthesize and never reverts.
type Status int

const (
	// StatusExpand marks a node not yet processed by the planner.
	StatusExpand Status = iota
	// StatusGrounded marks a node resolved against the reference library
	// or the persistent knowledge cache.
	StatusGrounded
	// StatusSynthesize marks a node that requires code generation.
	StatusSynthesize
)

func (s Status) String() string {
	switch s {
	case StatusExpand:
		return "expand"
	case StatusGrounded:
		return "grounded"
	case StatusSynthesize:
		return "synthesize"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// GroundingSource distinguishes the two ways a node can become grounded.
// A reference-grounded node emits no code (the library provides it); a
// cache-grounded node is spliced in from the persistent knowledge cache.
type GroundingSource int

const (
	// SourceNone is the zero value for ungrounded nodes.
	SourceNone GroundingSource = iota
	// SourceReference means the concept was matched in the reference library.
	SourceReference
	// SourceCache means the concept was found in the persistent knowledge cache.
	SourceCache
)

func (g GroundingSource) String() string {
	switch g {
	case SourceReference:
		return "reference"
	case SourceCache:
		return "cache"
	default:
		return "none"
	}
}

// Node is one concept in the dependency graph. Nodes are owned by the
// graph; Dependencies and Parent hold references only.
type Node struct {
	ID     string
	Name   string
	Status Status
	Source GroundingSource

	// Identifiers holds the canonical reference-library names this concept
	// was grounded to. Empty unless Source == SourceReference.
	Identifiers []string

	Dependencies []*Node
	Parent       *Node
}

func newNode(name string, parent *Node) *Node {
	return &Node{
		ID:     uuid.New().String(),
		Name:   strings.TrimSpace(name),
		Status: StatusExpand,
		Parent: parent,
	}
}

// Key returns the node's normalized lookup name.
func (n *Node) Key() string {
	return NormalizeName(n.Name)
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(name=%q, status=%s)", n.Name, n.Status)
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeName collapses internal whitespace, trims, and case-folds a
// concept name. All name-keyed lookups in the pipeline go through this so
// the graph, the run cache, and the persistent cache agree on keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(whitespaceRE.ReplaceAllString(name, " ")))
}

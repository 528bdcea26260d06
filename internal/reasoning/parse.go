package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"

	"proofforge/internal/logging"
)

// ConsistencyLevel is the three-tier judgment of semantic drift between
// the original statement and its back-translation.
type ConsistencyLevel int

const (
	// LevelConsistent means the restatement fully matches the original.
	LevelConsistent ConsistencyLevel = 1
	// LevelAcceptable means minor drift that does not change the claim.
	LevelAcceptable ConsistencyLevel = 2
	// LevelInconsistent means the restatement materially misrepresents
	// the original. This is also the safe default for malformed output.
	LevelInconsistent ConsistencyLevel = 3
)

// Accepted reports whether the level passes the alignment gate.
func (l ConsistencyLevel) Accepted() bool {
	return l == LevelConsistent || l == LevelAcceptable
}

func (l ConsistencyLevel) String() string {
	switch l {
	case LevelConsistent:
		return "level_1"
	case LevelAcceptable:
		return "level_2"
	default:
		return "level_3"
	}
}

// ConsistencyReport is the parsed output of the consistency judgment.
type ConsistencyReport struct {
	Level         ConsistencyLevel `json:"-"`
	Discrepancies []string         `json:"discrepancies"`
	// Malformed is set when the level came from the parse fallback rather
	// than an explicit verdict. The final alignment gate still rejects, but
	// optimizations that only exist to act on confirmed drift can skip it.
	Malformed bool `json:"-"`
}

// GroundingJudgment is the parsed output of the grounding reasoner.
type GroundingJudgment struct {
	Found       bool
	Identifiers []string
}

var (
	leanFenceRE   = regexp.MustCompile("(?s)```lean\\s*(.*?)\\s*```")
	pythonFenceRE = regexp.MustCompile("(?s)```python\\s*(.*?)\\s*```")
	plainFenceRE  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractCode pulls the code block out of a model response. It prefers a
// ```lean fence, then ```python, then a bare fence; without any fence the
// whole response is treated as code. Trailing dependency markers and late
// import lines the model sometimes echoes back are cut off.
func ExtractCode(response string) string {
	cleaned := strings.TrimSpace(response)

	if m := leanFenceRE.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := pythonFenceRE.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := plainFenceRE.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
		// A bare fence may still open with a language tag line.
		for _, tag := range []string{"python\n", "json\n"} {
			if rest, ok := strings.CutPrefix(cleaned, tag); ok {
				cleaned = strings.TrimSpace(rest)
				break
			}
		}
	}

	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") && len(cleaned) >= 2 {
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	return truncateAtMarkers(cleaned)
}

// truncateAtMarkers cuts the response at the first echoed dependency
// marker, or at an "import Mathlib" line appearing after the prelude
// region (the model restating its context rather than producing code).
func truncateAtMarkers(code string) string {
	lines := strings.Split(code, "\n")
	var kept []string

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "import Mathlib") && i > 5 {
			break
		}
		if strings.Contains(line, "-- [Dep]") || strings.Contains(line, "--[Dep]") {
			break
		}
		kept = append(kept, line)
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if before, _, found := strings.Cut(out, "-- >> (Optional) Auxiliary Types"); found {
		out = strings.TrimSpace(before)
	}
	return out
}

// ParseNameList parses a list of concept names from a model response.
// It accepts JSON arrays, Python-style single-quoted lists, and falls back
// to an empty list for anything else. Blank entries are dropped.
func ParseNameList(response string) []string {
	cleaned := ExtractCode(response)
	if cleaned == "" {
		return nil
	}

	if names, ok := tryParseStringList(cleaned); ok {
		return names
	}
	// Python repr: swap quote style and retry.
	if strings.Contains(cleaned, "'") {
		if names, ok := tryParseStringList(strings.ReplaceAll(cleaned, "'", `"`)); ok {
			return names
		}
	}

	logging.APIWarn("could not parse concept list from response: %.80s", cleaned)
	return nil
}

func tryParseStringList(s string) ([]string, bool) {
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	var names []string
	for _, item := range raw {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names, true
}

// maxGroundingIdentifiers caps how many canonical names one grounding
// response may contribute.
const maxGroundingIdentifiers = 3

// ParseGroundingResponse parses the grounding reasoner's reply. The
// expected forms are "FOUND: [list of names]" or "NO_MATCH"; anything
// else is treated as not found.
func ParseGroundingResponse(response string) GroundingJudgment {
	response = strings.TrimSpace(response)

	if !strings.HasPrefix(response, "FOUND:") {
		if !strings.HasPrefix(response, "NO_MATCH") {
			logging.APIWarn("unexpected grounding response: %.80s", response)
		}
		return GroundingJudgment{Found: false}
	}

	content := strings.TrimSpace(strings.TrimPrefix(response, "FOUND:"))

	var ids []string
	if parsed, ok := tryParseStringList(content); ok {
		ids = parsed
	} else if strings.Contains(content, "'") {
		if parsed, ok := tryParseStringList(strings.ReplaceAll(content, "'", `"`)); ok {
			ids = parsed
		}
	}
	if ids == nil {
		// Comma-separated fallback: Def A, Def B
		for _, part := range strings.Split(content, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				ids = append(ids, trimmed)
			}
		}
	}

	if len(ids) > maxGroundingIdentifiers {
		ids = ids[:maxGroundingIdentifiers]
	}
	if len(ids) == 0 {
		return GroundingJudgment{Found: false}
	}
	return GroundingJudgment{Found: true, Identifiers: ids}
}

// rawConsistencyReport mirrors the JSON shape the model is asked to emit.
type rawConsistencyReport struct {
	ConsistencyLevel string   `json:"consistency_level"`
	Discrepancies    []string `json:"discrepancies"`
}

// ParseConsistencyReport parses the consistency-check JSON. Malformed or
// fence-wrapped output degrades to the most severe level rather than an
// error, so a bad judgment can never crash the run.
func ParseConsistencyReport(response string) ConsistencyReport {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if !strings.HasPrefix(cleaned, "{") || !strings.HasSuffix(cleaned, "}") {
		logging.APIWarn("consistency check returned non-JSON output")
		return ConsistencyReport{
			Level:         LevelInconsistent,
			Discrepancies: []string{"consistency check returned invalid output"},
			Malformed:     true,
		}
	}

	var raw rawConsistencyReport
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		logging.APIWarn("consistency check JSON unparseable: %v", err)
		return ConsistencyReport{
			Level:         LevelInconsistent,
			Discrepancies: []string{"consistency check returned invalid JSON"},
			Malformed:     true,
		}
	}

	report := ConsistencyReport{Discrepancies: raw.Discrepancies}
	switch strings.TrimSpace(raw.ConsistencyLevel) {
	case "level_1", "1":
		report.Level = LevelConsistent
	case "level_2", "2":
		report.Level = LevelAcceptable
	default:
		report.Level = LevelInconsistent
	}
	return report
}

// Package scan classifies archive entry content as safe or unsafe.
// It applies heuristic pattern and signature rules to a bounded sample of
// each entry; it is not a signature-based antivirus engine.
package scan

import (
	"bytes"
	"path"
	"regexp"
	"strings"
)

// SampleSize is the maximum number of leading bytes of an entry inspected.
const SampleSize = 50 * 1024

// Rule IDs reported for checks that are not table-driven.
const (
	RuleDangerousExtension = "dangerous-extension"
)

// Verdict is the immutable result of a scan.
type Verdict struct {
	Safe   bool
	Reason string
	RuleID string
}

// Safe is the verdict returned when no rule matches.
var Safe = Verdict{Safe: true}

func unsafe(ruleID, reason string) Verdict {
	return Verdict{Safe: false, Reason: reason, RuleID: ruleID}
}

// Scanner applies a rule table to entry samples. It is safe for concurrent use.
type Scanner struct {
	binary    map[string]struct{}
	text      map[string]struct{}
	dangerous map[string]struct{}

	binaryRules    []Rule
	maliciousRules []Rule
	scriptOpen     *regexp.Regexp
	dynamicRules   []Rule
	signatures     []Signature
}

// NewScanner builds a Scanner from rules.
func NewScanner(rules Rules) *Scanner {
	s := &Scanner{
		binary:         toSet(rules.BinaryExtensions),
		text:           toSet(rules.TextExtensions),
		dangerous:      toSet(rules.DangerousExtensions),
		binaryRules:    append([]Rule(nil), rules.BinaryRules...),
		maliciousRules: append([]Rule(nil), rules.MaliciousRules...),
		scriptOpen:     rules.ScriptOpen,
		dynamicRules:   append([]Rule(nil), rules.DynamicScriptRules...),
	}
	for _, sig := range rules.ExecutableSignatures {
		s.signatures = append(s.signatures, Signature{ID: sig.ID, Magic: bytes.Clone(sig.Magic)})
	}
	return s
}

// NewDefaultScanner builds a Scanner from DefaultRules.
func NewDefaultScanner() *Scanner {
	return NewScanner(DefaultRules())
}

// CheckExtension rejects names whose extension is dangerous and not explicitly allowed.
func (s *Scanner) CheckExtension(name string) Verdict {
	ext := Extension(name)
	if s.isDangerous(ext) {
		return unsafe(RuleDangerousExtension, "dangerous file extension not allowed: "+ext)
	}
	return Safe
}

// Scan classifies sample, the leading bytes of the entry called name.
// Only the first SampleSize bytes are inspected. The first matching rule wins.
func (s *Scanner) Scan(sample []byte, name string) Verdict {
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}

	ext := Extension(name)
	_, allowed := s.binary[ext]
	_, text := s.text[ext]

	if allowed && !text {
		if r, ok := firstMatch(s.binaryRules, sample); ok {
			return unsafe(r.ID, "binary file contains suspicious script code")
		}
		return Safe
	}

	if r, ok := firstMatch(s.maliciousRules, sample); ok {
		return unsafe(r.ID, "malicious content detected")
	}

	if s.isDangerous(ext) && s.scriptOpen != nil && s.scriptOpen.Match(sample) {
		if r, ok := firstMatch(s.dynamicRules, sample); ok {
			return unsafe(r.ID, "script contains potentially dangerous code")
		}
	}

	if !allowed {
		for _, sig := range s.signatures {
			if len(sig.Magic) > 0 && bytes.HasPrefix(sample, sig.Magic) {
				return unsafe(sig.ID, "executable file detected")
			}
		}
	}

	return Safe
}

func (s *Scanner) isDangerous(ext string) bool {
	if _, ok := s.binary[ext]; ok {
		return false
	}
	_, ok := s.dangerous[ext]
	return ok
}

// Extension returns the lowercased extension of the last segment of name,
// without the dot. Both separators are accepted.
func Extension(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := path.Ext(base)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func firstMatch(rules []Rule, sample []byte) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern != nil && r.Pattern.Match(sample) {
			return r, true
		}
	}
	return Rule{}, false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimPrefix(v, "."))] = struct{}{}
	}
	return set
}

package core

import (
	"sort"
	"strings"
	"unicode"

	"github.com/valter-silva-au/devassist/pkg/models"
)

// DomainEnricher inspects a knowledge record and reports domain-specific
// findings. The knowledge store runs every registered enricher on Enrich and
// uses enricher names as search categories.
type DomainEnricher interface {
	Name() string
	Enrich(rec models.KnowledgeRecord) (models.DomainFinding, bool)
}

// KeywordEnricher flags records whose text mentions any of a fixed keyword
// set. Single-word terms match word prefixes ("token" matches "tokens");
// multi-word terms match as substrings.
type KeywordEnricher struct {
	name  string
	terms []string
	// areas maps a sub-area tag to the terms that select it.
	areas map[string][]string
	// highRisk terms raise RiskLevel to "high"; otherwise risk is defaultRisk.
	highRisk    []string
	defaultRisk string
	review      bool
}

// NewKeywordEnricher creates a KeywordEnricher with no areas or risk rules.
func NewKeywordEnricher(name string, terms ...string) *KeywordEnricher {
	return &KeywordEnricher{name: name, terms: terms}
}

// Name returns the enricher name, which doubles as its tag.
func (e *KeywordEnricher) Name() string { return e.name }

// Enrich reports the matched terms and areas, or false when nothing matched.
func (e *KeywordEnricher) Enrich(rec models.KnowledgeRecord) (models.DomainFinding, bool) {
	text := strings.ToLower(rec.Text() + " " + rec.Category)
	words := splitWords(text)

	var matched []string
	for _, term := range e.terms {
		if containsTerm(text, words, term) {
			matched = append(matched, term)
		}
	}
	if len(matched) == 0 {
		return models.DomainFinding{}, false
	}

	finding := models.DomainFinding{
		Enricher:       e.name,
		MatchedTerms:   matched,
		ReviewRequired: e.review,
	}
	for area, terms := range e.areas {
		for _, term := range terms {
			if containsTerm(text, words, term) {
				finding.Areas = append(finding.Areas, area)
				break
			}
		}
	}
	sort.Strings(finding.Areas)

	if e.defaultRisk != "" {
		finding.RiskLevel = e.defaultRisk
		for _, term := range e.highRisk {
			if containsTerm(text, words, term) {
				finding.RiskLevel = "high"
				break
			}
		}
	}
	return finding, true
}

// Tags returns the tags a finding contributes: the enricher name followed
// by one name:area tag per area.
func Tags(f models.DomainFinding) []string {
	tags := []string{f.Enricher}
	for _, a := range f.Areas {
		tags = append(tags, f.Enricher+":"+a)
	}
	return tags
}

// ArchitectureEnricher flags design and structure decisions.
func ArchitectureEnricher() *KeywordEnricher {
	return NewKeywordEnricher("architecture",
		"architecture", "design", "pattern", "structure", "component", "system")
}

// RegulatoryEnricher flags compliance-sensitive records. Every match
// requires review; mentions of security or compliance are high risk.
func RegulatoryEnricher() *KeywordEnricher {
	return &KeywordEnricher{
		name:  "regulatory",
		terms: []string{"compliance", "regulatory", "kyc", "aml", "securities", "legal"},
		areas: map[string][]string{
			"kyc":        {"kyc", "know your customer", "identity verification", "customer due diligence"},
			"aml":        {"aml", "anti-money laundering", "suspicious activity", "transaction monitoring"},
			"securities": {"securities", "investment", "offering"},
		},
		highRisk:    []string{"security", "compliance"},
		defaultRisk: "medium",
		review:      true,
	}
}

// BlockchainEnricher flags smart contract, token, and DeFi work.
func BlockchainEnricher() *KeywordEnricher {
	return &KeywordEnricher{
		name:  "blockchain",
		terms: []string{"blockchain", "smart contract", "token", "defi", "web3", "ethereum"},
		areas: map[string][]string{
			"smart_contract": {"smart contract", "solidity", "evm"},
			"tokenomics":     {"tokenomics", "token", "erc20", "erc721"},
			"defi":           {"defi", "liquidity", "yield", "amm"},
		},
	}
}

// BuiltinEnricher returns the built-in enricher with the given name.
func BuiltinEnricher(name string) (DomainEnricher, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "architecture":
		return ArchitectureEnricher(), true
	case "regulatory":
		return RegulatoryEnricher(), true
	case "blockchain":
		return BlockchainEnricher(), true
	}
	return nil, false
}

// BuiltinEnricherNames lists the names accepted by BuiltinEnricher.
func BuiltinEnricherNames() []string {
	return []string{"architecture", "blockchain", "regulatory"}
}

func containsTerm(text string, words []string, term string) bool {
	if strings.Contains(term, " ") || strings.Contains(term, "-") {
		return strings.Contains(text, term)
	}
	for _, w := range words {
		if strings.HasPrefix(w, term) {
			return true
		}
	}
	return false
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

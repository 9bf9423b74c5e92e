package tariff

import "regexp"

// FeePattern classifies a statement description as one fee family.
// Patterns are evaluated in order against the normalized description;
// first match wins. ServiceKeywords name the operation wording a matching
// service transaction is expected to carry nearby, used by the ghost-fee
// detector to tie a charge back to the operation that justifies it.
type FeePattern struct {
	Code            string
	Name            string
	Pattern         *regexp.Regexp
	ServiceKeywords []string
}

// builtinPatterns is the ordered builtin classification table. Wording
// covers the French retail-banking vocabulary the engine audits; more
// specific patterns come first.
var builtinPatterns = []FeePattern{
	{
		Code:            "FEE_INTERVENTION",
		Name:            "Commission d'intervention",
		Pattern:         regexp.MustCompile(`commission\s+d.?intervention`),
		ServiceKeywords: []string{"prelevement", "cheque", "virement", "paiement"},
	},
	{
		Code:            "FEE_REJECT",
		Name:            "Frais de rejet",
		Pattern:         regexp.MustCompile(`(frais\s+de\s+)?rejet\s+(de\s+)?(prelevement|cheque)`),
		ServiceKeywords: []string{"prelevement", "cheque"},
	},
	{
		Code:            "FEE_TRANSFER",
		Name:            "Frais de virement",
		Pattern:         regexp.MustCompile(`(frais|commission)\s+(de\s+|sur\s+)?virement`),
		ServiceKeywords: []string{"virement"},
	},
	{
		Code:            "FEE_CARD",
		Name:            "Cotisation carte",
		Pattern:         regexp.MustCompile(`cotisation\s+carte`),
		ServiceKeywords: []string{"carte", "paiement carte", "retrait"},
	},
	{
		Code:            "FEE_AGIOS",
		Name:            "Agios",
		Pattern:         regexp.MustCompile(`agios|interets?\s+debiteurs?`),
		ServiceKeywords: nil, // interest charges have no single originating operation
	},
	{
		Code:            "FEE_ACCOUNT",
		Name:            "Frais de tenue de compte",
		Pattern:         regexp.MustCompile(`frais\s+de\s+tenue|tenue\s+de\s+compte`),
		ServiceKeywords: nil, // periodic charge, no originating operation
	},
	{
		Code:            "FEE_SUBSCRIPTION",
		Name:            "Cotisation / abonnement",
		Pattern:         regexp.MustCompile(`cotisation|abonnement`),
		ServiceKeywords: nil,
	},
	{
		Code:            "FEE_COMMISSION",
		Name:            "Commission",
		Pattern:         regexp.MustCompile(`commission`),
		ServiceKeywords: []string{"virement", "change", "effet", "remise"},
	},
	{
		Code:            "FEE_GENERIC",
		Name:            "Frais bancaires",
		Pattern:         regexp.MustCompile(`\bfrais\b`),
		ServiceKeywords: []string{"virement", "cheque", "prelevement", "remise"},
	},
}

// BuiltinPatterns returns the builtin classification table.
func BuiltinPatterns() []FeePattern {
	return builtinPatterns
}

package validate

// Severity of a reported vulnerability as given by the model. Values outside
// the three constants are kept as-is.
type Severity string

const (
	Low    Severity = "Low"
	Medium Severity = "Medium"
	High   Severity = "High"
)

// Known reports whether s is one of Low, Medium or High.
func (s Severity) Known() bool {
	switch s {
	case Low, Medium, High:
		return true
	}
	return false
}

// AuditReport is the validated audit result.
type AuditReport struct {
	ContractName          string          `json:"contract_name"`
	AuditDate             string          `json:"audit_date"`
	SecurityScore         int             `json:"security_score"`
	OriginalContractCode  string          `json:"original_contract_code"`
	CorrectedContractCode string          `json:"corrected_contract_code"`
	Vulnerabilities       []Vulnerability `json:"vulnerabilities"`
	RecommendedFixes      []string        `json:"recommended_fixes"`
}

type Vulnerability struct {
	Category       string   `json:"category"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	RecommendedFix string   `json:"recommended_fix"`
}

// GeneratedContract is the validated generation result.
type GeneratedContract struct {
	SourceCode string `json:"sourceCode"`
}

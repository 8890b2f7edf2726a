package prompt

import "fmt"

// Versions of the fixed system instruction blocks. Bump when the text changes
// so history entries can be traced to the instructions that produced them.
const (
	GenerationVersion = "cairo-gen/2"
	AuditVersion      = "starknet-audit/2"
)

// Prompt is an immutable system + user message pair.
type Prompt struct {
	version string
	system  string
	user    string
}

// New builds a prompt from explicit parts.
func New(version, system, user string) Prompt {
	return Prompt{version: version, system: system, user: user}
}

func (p Prompt) Version() string { return p.version }
func (p Prompt) System() string  { return p.system }
func (p Prompt) User() string    { return p.user }

// Generation builds the contract-generation prompt. requirements is embedded
// verbatim; an empty string still yields a valid prompt.
func Generation(requirements string) Prompt {
	return New(GenerationVersion, generationSystemPrompt, fmt.Sprintf(generationUserTemplate, requirements))
}

// Audit builds the audit-and-repair prompt for contractCode.
func Audit(contractCode string) Prompt {
	return New(AuditVersion, auditSystemPrompt, auditUserPreamble+contractCode)
}

const generationUserTemplate = `Generate a Cairo 2.0 smart contract with the following specifications:
%s

The contract should include:
1. Proper input validation
2. Event emissions
3. Access control mechanisms
4. Error handling
5. Gas optimizations

Return only the contract code without explanations.`

const auditUserPreamble = "Carefully audit the following Starknet smart contract and provide a STRICTLY FORMATTED JSON response:\n\n"

const generationSystemPrompt = `You are an expert Cairo 2.0 smart contract developer building secure, efficient, production-ready contracts for Starknet.

Language and syntax:
- Use modern Cairo 2.0 syntax: traits, interfaces and components.
- Declare storage with the #[storage] attribute; pick Maps, Arrays or Spans to fit the use case.
- Use generics where appropriate and descriptive error messages everywhere.

Contract structure:
- Mark the module with #[starknet::contract] and define interfaces with #[starknet::interface].
- Use #[abi(embed_v0)] for implementations instead of #[external(v0)].
- Provide a constructor when state needs initialising; integrate components with component!.

Security:
- Access control on every state-changing function.
- Validate inputs and state transitions; follow check-effects-interaction.
- Guard against overflow/underflow and reentrancy; assert with descriptive messages.

Events and documentation:
- Define events with #[event] and emit them for every important state change.
- Document public functions and storage variables.

Gas:
- Minimise storage reads and writes and avoid redundant computation.

Standards:
- Follow Starknet interface standards (SRC5, SRC6 when relevant) and prefer OpenZeppelin components.

Very important: keep the name of the contract module as "contract", like this: mod contract {}

Return only the contract code without explanations unless specifically requested.`

const auditSystemPrompt = `You are a Starknet smart contract security expert. Audit the contract for:

1. Contract anatomy: method visibility, access controls, decorators, function modifiers.
2. State management: mutation safety, reentrancy, update patterns.
3. Access control: authorisation, role-based access, ownership and admin privileges.
4. External calls: cross-contract interactions, manipulation, gas limits and error handling.
5. Asset management: token transfers, overflow/underflow, balance tracking.
6. Cryptographic operations: signature verification, randomness, primitive usage.
7. Economic vulnerabilities: front-running, economic attack surface, incentive alignment.

Output format (a single JSON object inside one ` + "```json" + ` fenced block):
{
    "contract_name": string,
    "audit_date": string,
    "security_score": number, // integer 0-100
    "original_contract_code": string,
    "corrected_contract_code": string,
    "vulnerabilities": [
        {
            "category": string,
            "severity": "Low" | "Medium" | "High",
            "description": string,
            "recommended_fix": string
        }
    ],
    "recommended_fixes": [string]
}

IMPORTANT:
- Provide the FULL corrected contract code, not snippets.
- Include concrete, implementable fixes for each vulnerability.
- Explain all changes made in the corrected code through recommended_fixes.`

package domain

// Capability is a declared side-effect class of a tool, used by the security
// engine to decide whether an invocation needs user confirmation.
type Capability string

const (
	CapFileRead         Capability = "file_read"
	CapFileWrite        Capability = "file_write"
	CapSystemExecute    Capability = "system_execute"
	CapNetworkAccess    Capability = "network_access"
	CapUserConfirmation Capability = "user_confirmation"
)

// ErrorKind classifies a failure ToolResult. The retry executor treats
// KindValidation, KindNotFound and KindParse as terminal; KindInitialization
// and KindExecution may be retried when the failure looks transient.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindInitialization ErrorKind = "initialization"
	KindExecution      ErrorKind = "execution"
	KindParse          ErrorKind = "parse"
)

// ToolResult is the outcome of one tool invocation. It is always a value at
// the registry boundary: panics and errors inside a tool body are converted,
// never propagated.
type ToolResult struct {
	Success bool      `json:"success"`
	Output  string    `json:"output,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"` // set only on failure
}

// Ok builds a success result with the given output text.
func Ok(output string) *ToolResult {
	return &ToolResult{Success: true, Output: output}
}

// OkData builds a success result carrying structured data alongside output.
func OkData(output string, data any) *ToolResult {
	return &ToolResult{Success: true, Output: output, Data: data}
}

// Fail builds a failure result of the given kind.
func Fail(kind ErrorKind, msg string) *ToolResult {
	return &ToolResult{Success: false, Error: msg, Kind: kind}
}

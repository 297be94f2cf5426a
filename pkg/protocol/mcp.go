package protocol

const (
	// ProtocolRevision is the date-stamped protocol revision advertised on
	// initialize and echoed as a header when a stream is established.
	ProtocolRevision = "2025-03-26"

	// Methods understood by the dispatcher
	MethodInitialize  = "initialize"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
	MethodSetLogLevel = "logging/setLevel"
)

// ServerInfo identifies the server implementation
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities describes what the server supports
type ServerCapabilities struct {
	Tools   *ToolsCapability   `json:"tools,omitempty"`
	Logging *LoggingCapability `json:"logging,omitempty"`
}

// ToolsCapability describes tool support
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability describes logging support
type LoggingCapability struct{}

// InitializeResult is the fixed descriptor returned by the initialize method
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// SetLogLevelParams defines parameters for the logging/setLevel method
type SetLogLevelParams struct {
	Level string `json:"level"`
}

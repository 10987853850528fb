package errors

// Generic error code definitions used as sensible defaults across modules.
const (
	CodeSystemGeneric     = "SYS-000"
	CodeNetworkGeneric    = "NET-000"
	CodeConfigGeneric     = "CFG-000"
	CodeValidationGeneric = "VAL-000"
	CodeDependencyGeneric = "DEP-000"
	CodeProcessGeneric    = "PRC-000"
	CodeDatabaseGeneric   = "DB-000"
)

// Pipeline specific codes.
const (
	CodeTransferFailed = "NET-503"

	CodeKeyNotFound      = "KEY-404"
	CodeKeyFormatInvalid = "KEY-422"

	CodeArchiveEmpty   = "ARC-001"
	CodeArchiveCorrupt = "ARC-002"

	CodeBinaryMissing       = "DEC-001"
	CodeBinaryNotExecutable = "DEC-002"
	CodeProcessFailed       = "DEC-003"
	CodeTimeout             = "DEC-004"
	CodeOutputMissing       = "DEC-005"

	CodeDescriptorGeneric = "DSC-000"
)

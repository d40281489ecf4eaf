package handler

const (
	errInternalServer    = "Internal server error"
	errWorkchainNotFound = "Workchain not found"
	errInvalidStatus     = "Invalid status value"
	errInvalidCursor     = "Invalid cursor"
	errUnsupportedMedia  = "Content-Type must be application/json or application/yaml"
	errEmptyDocument     = "Request body must contain an XML document"
	errInvalidDocument   = "Document is not a readable XML file"
	errSchemaUnavailable = "No usable XML schema for this document"
)

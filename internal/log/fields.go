package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldBillID      = "bill_id"
	FieldUserID      = "user_id"
	FieldBillType    = "bill_type"
	FieldAmountCents = "amount_cents"
	FieldCategory    = "category"
	FieldPending     = "pending"
	FieldSynced      = "synced"
	FieldAttempt     = "attempt"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStorage = "storage"
	ComponentRemote  = "remote"
	ComponentSession = "session"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSync    = "sync"
	ComponentParse   = "parse"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpSync     = "sync"
	OpRefresh  = "refresh"
	OpParse    = "parse"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

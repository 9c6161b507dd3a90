package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldActor       = "actor"
	FieldFamilyRef   = "family_ref"
	FieldBudgetID    = "budget_id"
	FieldCategoryID  = "category_id"
	FieldTxID        = "tx_id"
	FieldTemplateID  = "template_id"
	FieldMonth       = "month"
	FieldAmountCents = "amount_cents"
	FieldStatus      = "status"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentStore   = "store"
	ComponentEngine  = "engine"
	ComponentReplica = "replica"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentBackend = "backend"
)

// Operations defines standard operation names
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpPush       = "push"
	OpPull       = "pull"
	OpMerge      = "merge"
	OpMutate     = "mutate"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

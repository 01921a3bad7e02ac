package purchase

const (
	operationApply = "apply"
	operationAudit = "audit"

	operationStatusOK        = "ok"
	operationStatusDuplicate = "duplicate"
	operationStatusError     = "error"

	correlationDelimiter  = "|"
	correlationFieldCount = 3

	defaultListLimit = 50
	maxListLimit     = 500

	metadataKeySourceEventKind = "source_event_kind"
	metadataKeyEventID         = "event_id"
	metadataKeyCurrency        = "currency"
)

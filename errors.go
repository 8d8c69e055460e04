package runway

import "errors"

var (
	// schema definition errors
	ErrNoBusinessKey  = errors.New("no business key")
	ErrBadIdentifier  = errors.New("invalid identifier")
	ErrReservedField  = errors.New("reserved field name")
	ErrDuplicateField = errors.New("duplicate field")

	// record validation errors
	ErrProhibitedField = errors.New("field is prohibited from being updated")
	ErrUnknownField    = errors.New("unknown field")
	ErrBadValue        = errors.New("value does not match field kind")

	// store errors
	ErrUnknownType = errors.New("no record type of that name has been registered")
)

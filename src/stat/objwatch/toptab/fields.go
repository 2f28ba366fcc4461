package toptab

import "strings"

// Kind is the value type a tabular field is coerced into.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "float"
	}
}

// Header names as printed by procps top in batch mode.
const (
	FieldPID     = "PID"
	FieldUser    = "USER"
	FieldPR      = "PR"
	FieldNI      = "NI"
	FieldVirt    = "VIRT"
	FieldRes     = "RES"
	FieldShr     = "SHR"
	FieldState   = "S"
	FieldCPU     = "%CPU"
	FieldMem     = "%MEM"
	FieldTime    = "TIME+"
	FieldCommand = "COMMAND"
)

// DefaultFields is the inclusion set used when none is configured.
var DefaultFields = []string{FieldVirt, FieldRes, FieldShr, FieldCPU, FieldMem, FieldTime}

var kinds = map[string]Kind{
	FieldPID:     KindInt,
	FieldUser:    KindString,
	FieldPR:      KindInt,
	FieldNI:      KindInt,
	FieldVirt:    KindInt,
	FieldRes:     KindInt,
	FieldShr:     KindInt,
	FieldState:   KindString,
	FieldCPU:     KindFloat,
	FieldMem:     KindFloat,
	FieldTime:    KindString,
	FieldCommand: KindString,
}

// KindOf reports how a header is coerced. Headers outside the catalog are floats.
func KindOf(field string) Kind {
	if k, ok := kinds[field]; ok {
		return k
	}
	return KindFloat
}

// Known reports whether field is part of the fixed catalog.
func Known(field string) bool {
	_, ok := kinds[field]
	return ok
}

// Key is the record key for a header.
func Key(field string) string {
	return strings.ToLower(field)
}

package types

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error / fault-type tags produced by this
// model (spec.md §7). The same enum is used both as an operation's error
// (wrapped in *Error) and as a FaultRecord's FaultType, since spec.md's
// translation-class errors are exactly its fault taxonomy.
type Kind int

const (
	// Input validity.
	InvalidStreamID Kind = iota
	InvalidPASID
	InvalidAddress
	InvalidPermissions
	InvalidSecurityDomain
	InvalidConfiguration
	ParseError

	// Resource state.
	StreamNotConfigured
	StreamDisabled
	PASIDNotFound
	PASIDAlreadyExists
	PageNotMapped
	CacheEntryNotFound
	FaultHandlingError

	// Translation / fault taxonomy.
	TranslationFault
	PermissionFault
	SecurityFault
	AddressSizeFault
	AccessFault
	Level0TranslationFault
	Level1TranslationFault
	Level2TranslationFault
	Level3TranslationFault
	ContextDescriptorFormatFault

	// Resource limits.
	StreamLimitExceeded
	PASIDLimitExceeded

	// Internal.
	InternalError
	ConfigurationError
)

// PagePermissionViolation is the spec's alias for PermissionFault.
const PagePermissionViolation = PermissionFault

var kindNames = map[Kind]string{
	InvalidStreamID:               "InvalidStreamID",
	InvalidPASID:                  "InvalidPASID",
	InvalidAddress:                "InvalidAddress",
	InvalidPermissions:            "InvalidPermissions",
	InvalidSecurityDomain:         "InvalidSecurityDomain",
	InvalidConfiguration:          "InvalidConfiguration",
	ParseError:                    "ParseError",
	StreamNotConfigured:           "StreamNotConfigured",
	StreamDisabled:                "StreamDisabled",
	PASIDNotFound:                 "PASIDNotFound",
	PASIDAlreadyExists:            "PASIDAlreadyExists",
	PageNotMapped:                 "PageNotMapped",
	CacheEntryNotFound:            "CacheEntryNotFound",
	FaultHandlingError:            "FaultHandlingError",
	TranslationFault:              "TranslationFault",
	PermissionFault:               "PermissionFault",
	SecurityFault:                 "SecurityFault",
	AddressSizeFault:              "AddressSizeFault",
	AccessFault:                   "AccessFault",
	Level0TranslationFault:        "Level0TranslationFault",
	Level1TranslationFault:        "Level1TranslationFault",
	Level2TranslationFault:        "Level2TranslationFault",
	Level3TranslationFault:        "Level3TranslationFault",
	ContextDescriptorFormatFault:  "ContextDescriptorFormatFault",
	StreamLimitExceeded:           "StreamLimitExceeded",
	PASIDLimitExceeded:            "PASIDLimitExceeded",
	InternalError:                 "InternalError",
	ConfigurationError:            "ConfigurationError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsTranslationClass reports whether k is one of the translation-fault
// kinds that should produce a FaultRecord (spec.md §7: "Translation
// failures additionally record a fault into the fault queue").
func (k Kind) IsTranslationClass() bool {
	switch k {
	case TranslationFault, PermissionFault, SecurityFault, AddressSizeFault,
		AccessFault, Level0TranslationFault, Level1TranslationFault,
		Level2TranslationFault, Level3TranslationFault,
		ContextDescriptorFormatFault, StreamDisabled, StreamNotConfigured,
		PageNotMapped, InvalidPASID:
		return true
	default:
		return false
	}
}

// Error is the concrete error type returned for every Kind. It carries no
// extra context by design — callers that need the triggering request's
// StreamID/PASID/address read it from the matching FaultRecord via
// FaultQueue.GetEvents, per spec.md §7's "user-visible behavior on
// failure".
type Error struct {
	Kind Kind
}

func (e *Error) Error() string { return e.Kind.String() }

// Is supports errors.Is(err, SomeErrorValue) by comparing Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewError wraps a Kind in an *Error, the standard-library error value
// returned by every fallible operation in this module.
func NewError(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// returning InternalError otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return -1
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

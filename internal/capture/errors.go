package capture

import (
	"strings"
	"sync/atomic"
)

// ErrorCategory classifies GStreamer errors for logs and counters.
type ErrorCategory int

const (
	// ErrCategoryResource is a missing file, busy device or permission problem
	ErrCategoryResource ErrorCategory = iota
	// ErrCategoryCodec is a decode or caps negotiation failure
	ErrCategoryCodec
	// ErrCategoryNetwork is a connection failure on a URL source
	ErrCategoryNetwork
	// ErrCategoryUnknown is anything else
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

var (
	resourceKeywords = []string{
		"no such file",
		"not found",
		"could not open",
		"cannot identify device",
		"permission denied",
		"device or resource busy",
		"resource",
	}
	codecKeywords = []string{
		"codec",
		"decode",
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"no decoder",
		"missing plugin",
		"h264",
		"h265",
		"jpeg",
	}
	networkKeywords = []string{
		"connection",
		"timeout",
		"unreachable",
		"dns",
		"resolve",
		"socket",
		"could not connect",
	}
)

// ClassifyError categorizes a GStreamer error from its message and debug
// string. Codec keywords win over resource keywords so that a missing
// decoder plugin is not reported as a missing file.
func ClassifyError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// ErrorCounters counts pipeline errors per category.
type ErrorCounters struct {
	Resource atomic.Uint64
	Codec    atomic.Uint64
	Network  atomic.Uint64
	Unknown  atomic.Uint64
}

// Record increments the counter of category.
func (c *ErrorCounters) Record(category ErrorCategory) {
	switch category {
	case ErrCategoryResource:
		c.Resource.Add(1)
	case ErrCategoryCodec:
		c.Codec.Add(1)
	case ErrCategoryNetwork:
		c.Network.Add(1)
	default:
		c.Unknown.Add(1)
	}
}

// Total returns the sum over all categories.
func (c *ErrorCounters) Total() uint64 {
	return c.Resource.Load() + c.Codec.Load() + c.Network.Load() + c.Unknown.Load()
}

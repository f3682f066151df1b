package bridge

import (
	"fmt"
	"strings"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/errors"
)

// reservedDomainChars may not appear in an object name's domain.
const reservedDomainChars = "*?\n"

// ObjectName is a validated instrument identifier of the form
//
//	domain:key=value[,key=value...]
//
// The domain is free of ':', '*', '?', and newlines; at least one property
// is required; keys are unique and non-empty; values are non-empty. The
// zero ObjectName is not valid.
type ObjectName struct {
	domain    string
	keys      []string
	values    map[string]string
	canonical string
}

// ParseObjectName validates raw and returns its parsed form.
func ParseObjectName(raw string) (ObjectName, error) {
	domain, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return ObjectName{}, errors.MalformedName(raw, "missing domain separator")
	}
	if domain == "" {
		return ObjectName{}, errors.MalformedName(raw, "empty domain")
	}
	if strings.ContainsAny(domain, reservedDomainChars) {
		return ObjectName{}, errors.MalformedName(raw, "domain contains reserved character")
	}
	if rest == "" {
		return ObjectName{}, errors.MalformedName(raw, "missing properties")
	}

	parts := strings.Split(rest, ",")
	keys := make([]string, 0, len(parts))
	values := make(map[string]string, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ObjectName{}, errors.MalformedName(raw, fmt.Sprintf("property %q missing '='", part))
		}
		if k == "" {
			return ObjectName{}, errors.MalformedName(raw, "empty property key")
		}
		if v == "" {
			return ObjectName{}, errors.MalformedName(raw, fmt.Sprintf("empty value for property %q", k))
		}
		if _, dup := values[k]; dup {
			return ObjectName{}, errors.MalformedName(raw, fmt.Sprintf("duplicate property key %q", k))
		}
		keys = append(keys, k)
		values[k] = v
	}

	var b strings.Builder
	b.WriteString(domain)
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}

	return ObjectName{
		domain:    domain,
		keys:      keys,
		values:    values,
		canonical: b.String(),
	}, nil
}

// Domain returns the name's domain.
func (n ObjectName) Domain() string { return n.domain }

// Keys returns the property keys in declaration order.
func (n ObjectName) Keys() []string {
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Value returns the value for key.
func (n ObjectName) Value(key string) (string, bool) {
	v, ok := n.values[key]
	return v, ok
}

// String returns the canonical text form.
func (n ObjectName) String() string { return n.canonical }

// SuffixForIsolate appends the isolate discriminator to a raw object name,
// keeping instrument names unique across isolates that register the same
// instrument.
func SuffixForIsolate(raw string, id mgmtbridge.IsolateID) string {
	return fmt.Sprintf("%s_%x", raw, uint64(id))
}

package device

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/marmos91/dittocifs/internal/bytesize"
)

// Params is a parsed share parameter string.
type Params map[string]string

// ParseParams parses "key=value[,key=value]*". Keys are lower-cased and
// trimmed, values trimmed. An empty string yields empty Params. Empty
// keys, a missing '=' and repeated keys are syntax errors.
func ParseParams(s string) (Params, error) {
	p := Params{}
	if strings.TrimSpace(s) == "" {
		return p, nil
	}
	for i, item := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			return nil, NewContextError(ErrSyntax, "", "", "item %d %q has no '='", i+1, strings.TrimSpace(item))
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return nil, NewContextError(ErrSyntax, "", "", "item %d has an empty key", i+1)
		}
		if _, dup := p[k]; dup {
			return nil, NewContextError(ErrSyntax, "", k, "key given more than once")
		}
		p[k] = strings.TrimSpace(v)
	}
	return p, nil
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// String formats p back into canonical parameter syntax.
func (p Params) String() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// Validator accumulates parameter checks for one driver; the first failure
// wins.
type Validator struct {
	driver  string
	params  Params
	allowed map[string]bool
	err     *ContextError
}

// Validate starts checking p on behalf of driver.
func (p Params) Validate(driver string) *Validator {
	return &Validator{driver: driver, params: p, allowed: map[string]bool{}}
}

func (v *Validator) fail(code ErrorCode, key, format string, args ...any) {
	if v.err == nil {
		v.err = NewContextError(code, v.driver, key, format, args...)
	}
}

// Required returns a non-empty value for key.
func (v *Validator) Required(key string) string {
	v.allowed[key] = true
	s, ok := v.params[key]
	if !ok {
		v.fail(ErrMissingParam, key, "required")
		return ""
	}
	if s == "" {
		v.fail(ErrInvalidValue, key, "must not be empty")
	}
	return s
}

// Optional returns the value for key or def.
func (v *Validator) Optional(key, def string) string {
	v.allowed[key] = true
	if s, ok := v.params[key]; ok {
		return s
	}
	return def
}

// Bool parses key as a boolean, defaulting to def.
func (v *Validator) Bool(key string, def bool) bool {
	v.allowed[key] = true
	s, ok := v.params[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		v.fail(ErrInvalidValue, key, "%q is not a boolean", s)
		return def
	}
	return b
}

// Size parses key as a byte size, defaulting to def.
func (v *Validator) Size(key string, def bytesize.ByteSize) bytesize.ByteSize {
	v.allowed[key] = true
	s, ok := v.params[key]
	if !ok {
		return def
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		v.fail(ErrInvalidValue, key, "%v", err)
		return def
	}
	return b
}

// Check records a failure for key unless ok.
func (v *Validator) Check(ok bool, key, format string, args ...any) {
	if !ok {
		v.fail(ErrInvalidValue, key, format, args...)
	}
}

// Err returns the first failure, including keys no accessor asked for.
func (v *Validator) Err() error {
	if v.err == nil {
		for _, k := range v.params.Keys() {
			if !v.allowed[k] {
				v.fail(ErrUnknownParam, k, "not accepted by this driver")
				break
			}
		}
	}
	if v.err == nil {
		return nil
	}
	return v.err
}

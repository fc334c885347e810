package socketio

import (
	"fmt"
	"math"
)

const (
	placeholderKey = "_placeholder"
	placeholderNum = "num"
	errorKey       = "_error"
)

// Limits bounds what a frame may carry. Zero fields take the defaults.
type Limits struct {
	// MaxDepth is the deepest allowed nesting of composite arguments. Each
	// top-level argument sits at depth 1.
	MaxDepth int
	// MaxAttachments caps the number of binary blobs in one frame.
	MaxAttachments int
	// MaxBlobSize caps the size in bytes of a single binary blob.
	MaxBlobSize int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:       32,
		MaxAttachments: 64,
		MaxBlobSize:    1e6,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = def.MaxDepth
	}
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = def.MaxAttachments
	}
	if l.MaxBlobSize <= 0 {
		l.MaxBlobSize = def.MaxBlobSize
	}
	return l
}

// deconstructor swaps blobs for placeholders and collects them, in
// depth-first order, as attachments.
type deconstructor struct {
	limits      Limits
	attachments [][]byte
}

func (d *deconstructor) walk(v any, depth int) (any, error) {
	if depth > d.limits.MaxDepth {
		return nil, protocolErr(fmt.Sprintf("arguments nested deeper than %d", d.limits.MaxDepth), nil)
	}

	switch t := v.(type) {
	case []byte:
		if len(t) > d.limits.MaxBlobSize {
			return nil, protocolErr(fmt.Sprintf("blob of %d bytes exceeds %d", len(t), d.limits.MaxBlobSize), nil)
		}
		if len(d.attachments) >= d.limits.MaxAttachments {
			return nil, protocolErr(fmt.Sprintf("more than %d attachments", d.limits.MaxAttachments), nil)
		}
		num := len(d.attachments)
		d.attachments = append(d.attachments, t)
		return map[string]any{placeholderKey: true, placeholderNum: num}, nil

	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			v, err := d.walk(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			v, err := d.walk(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	default:
		return v, nil
	}
}

// reconstructor is the inverse of deconstructor. Without attachments it only
// enforces the depth limit and leaves placeholder-shaped objects untouched.
type reconstructor struct {
	limits      Limits
	attachments [][]byte
	resolve     bool
	seen        int
	used        map[int]bool
}

func (r *reconstructor) walk(v any, depth int) (any, error) {
	if depth > r.limits.MaxDepth {
		return nil, protocolErr(fmt.Sprintf("arguments nested deeper than %d", r.limits.MaxDepth), nil)
	}

	switch t := v.(type) {
	case map[string]any:
		if r.resolve && isPlaceholder(t) {
			return r.attachment(t)
		}
		for k, elem := range t {
			v, err := r.walk(elem, depth+1)
			if err != nil {
				return nil, err
			}
			t[k] = v
		}
		return t, nil

	case []any:
		for i, elem := range t {
			v, err := r.walk(elem, depth+1)
			if err != nil {
				return nil, err
			}
			t[i] = v
		}
		return t, nil

	default:
		return v, nil
	}
}

func (r *reconstructor) attachment(placeholder map[string]any) ([]byte, error) {
	num, ok := placeholder[placeholderNum].(float64)
	if !ok || num != math.Trunc(num) || num < 0 || int(num) >= len(r.attachments) {
		return nil, protocolErr(fmt.Sprintf("placeholder num %v out of range", placeholder[placeholderNum]), nil)
	}
	r.seen++
	if r.used == nil {
		r.used = make(map[int]bool, len(r.attachments))
	}
	r.used[int(num)] = true
	return r.attachments[int(num)], nil
}

func isPlaceholder(m map[string]any) bool {
	flag, ok := m[placeholderKey].(bool)
	if !ok || !flag {
		return false
	}
	_, ok = m[placeholderNum]
	return ok
}

func encodeReplyError(e *ReplyError) map[string]any {
	return map[string]any{
		errorKey:  true,
		"code":    e.Code,
		"message": e.Message,
	}
}

// decodeReplyError recognizes the single-object payload of an error reply.
func decodeReplyError(args []any) (*ReplyError, bool) {
	if len(args) != 1 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return nil, false
	}
	if flag, ok := m[errorKey].(bool); !ok || !flag {
		return nil, false
	}
	code, _ := m["code"].(string)
	message, _ := m["message"].(string)
	return &ReplyError{Code: code, Message: message}, true
}

// Package text provides the text node: Unicode-aware string operations
// selected by an operation name.
package text

import (
	"context"
	"fmt"

	"golang.org/x/text/language"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// TypeText is the registered type name.
const TypeText = "text"

// Operation names a text operation.
type Operation string

const (
	OpUpper        Operation = "upper"
	OpLower        Operation = "lower"
	OpTitle        Operation = "title"
	OpCapitalize   Operation = "capitalize"
	OpFold         Operation = "fold"
	OpNormalize    Operation = "normalize"
	OpTrim         Operation = "trim"
	OpReplace      Operation = "replace"
	OpSubstring    Operation = "substring"
	OpSplit        Operation = "split"
	OpJoin         Operation = "join"
	OpLength       Operation = "length"
	OpFormat       Operation = "format"
	OpBase64Encode Operation = "base64_encode"
	OpBase64Decode Operation = "base64_decode"
	OpURLEncode    Operation = "url_encode"
	OpURLDecode    Operation = "url_decode"
)

// Register installs the text node type into reg.
func Register(reg *node.Registry) error {
	return reg.Register(TypeText, []node.ParameterDeclaration{
		node.Required("operation", node.TypeString),
		node.Optional("text", node.TypeString, ""),
		node.Optional("language", node.TypeString, "und"),
		node.Optional("old", node.TypeString, ""),
		node.Optional("new", node.TypeString, ""),
		node.Optional("regex", node.TypeBoolean, false),
		node.Optional("count", node.TypeInteger, -1),
		node.Optional("start", node.TypeInteger, 0),
		node.Optional("end", node.TypeInteger, 0),
		node.Optional("separator", node.TypeString, ""),
		node.Optional("items", node.TypeList, nil),
		node.Optional("data", node.TypeMapping, nil),
		node.Optional("cutset", node.TypeString, ""),
	}, node.Func(apply),
		node.WithDescription("Applies a string operation to text"),
		node.WithOutputs(node.Out("result", node.TypeAny)),
	)
}

func apply(_ context.Context, p node.Params) (map[string]any, error) {
	op := Operation(p.String("operation"))
	s := p.String("text")

	var (
		result any
		err    error
	)
	switch op {
	case OpUpper, OpLower, OpTitle, OpFold:
		var tag language.Tag
		tag, err = language.Parse(p.StringDefault("language", "und"))
		if err != nil {
			return nil, fmt.Errorf("invalid language: %w", err)
		}
		result = Case(s, op, tag)
	case OpCapitalize:
		result = Capitalize(s)
	case OpNormalize:
		result, err = Normalize(s)
	case OpTrim:
		result = Trim(s, p.String("cutset"))
	case OpReplace:
		result, err = Replace(s, p.String("old"), p.String("new"), p.IntDefault("count", -1), p.Bool("regex"))
	case OpSubstring:
		result = Substring(s, p.Int("start"), p.Int("end"))
	case OpSplit:
		parts := Split(s, p.String("separator"))
		list := make([]any, len(parts))
		for i, part := range parts {
			list[i] = part
		}
		result = list
	case OpJoin:
		result = Join(p.Slice("items"), p.String("separator"))
	case OpLength:
		result = Length(s)
	case OpFormat:
		result = Format(s, p.Map("data"))
	case OpBase64Encode:
		result = Base64Encode(s)
	case OpBase64Decode:
		result, err = Base64Decode(s)
	case OpURLEncode:
		result = URLEncode(s)
	case OpURLDecode:
		result, err = URLDecode(s)
	default:
		return nil, fmt.Errorf("unsupported text operation %q", op)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return map[string]any{"result": result}, nil
}

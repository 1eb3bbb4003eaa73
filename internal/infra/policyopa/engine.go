package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"quotasigner/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.signer.quota.total_quota"

// DefaultModule passes the ledger's total quota through unchanged.
const DefaultModule = `package signer.quota

default total_quota = 0

total_quota = input.status.totalQuota
`

// Engine evaluates the quota policy: local adjustments applied on top of the
// total quota read from the ledger.
type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngineFromPath(ctx context.Context, policyPath string) (*Engine, error) {
	if policyPath == "" {
		return nil, errors.New("policy path is required")
	}
	return newEngine(ctx, rego.Load([]string{policyPath}, nil))
}

func NewEngineFromModule(ctx context.Context, name, source string) (*Engine, error) {
	if source == "" {
		return nil, errors.New("policy module is required")
	}
	return newEngine(ctx, rego.Module(name, source))
}

func newEngine(ctx context.Context, source func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

// TotalQuota returns the adjusted total. An undefined result keeps the ledger
// value; negative results are clamped to zero.
func (e *Engine) TotalQuota(ctx context.Context, input domain.QuotaPolicyInput) (int64, error) {
	if e == nil {
		return input.Status.TotalQuota, nil
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return 0, fmt.Errorf("evaluate quota policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return input.Status.TotalQuota, nil
	}
	total, err := decodeTotal(results[0].Expressions[0].Value)
	if err != nil {
		return 0, err
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

func decodeTotal(value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("policy result %q is not a number", v)
		}
		return int64(math.Floor(f)), nil
	case float64:
		return int64(math.Floor(v)), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("policy result is %T, want number", value)
	}
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}

var _ domain.QuotaPolicy = (*Engine)(nil)

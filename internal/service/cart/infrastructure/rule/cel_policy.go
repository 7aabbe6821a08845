// Package rule 把购物车准入规则交给 CEL 表达式，运营可以通过配置调整而无需发版
package rule

import (
	"context"

	"nexus-cart/internal/pkg/logger"
	"nexus-cart/internal/service/cart/domain"
	"nexus-cart/internal/service/cart/domain/port"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELPolicy 是 port.AdmissionPolicy 的 CEL 实现
// 可用变量: userId, productId, quantity (变更后行数量), stock (变更前可用库存), lines (变更后行数)
type CELPolicy struct {
	expr string
	prg  cel.Program
}

// NewCELPolicy 编译表达式，表达式必须返回 bool
func NewCELPolicy(expr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("userId", cel.StringType),
		cel.Variable("productId", cel.StringType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("stock", cel.IntType),
		cel.Variable("lines", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cel: create env")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "cel: compile %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("cel: policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "cel: build program")
	}
	return &CELPolicy{expr: expr, prg: prg}, nil
}

// Admit 实现 port.AdmissionPolicy
func (p *CELPolicy) Admit(ctx context.Context, req port.AdmissionRequest) error {
	out, _, err := p.prg.ContextEval(ctx, map[string]any{
		"userId":    req.UserID,
		"productId": req.ProductID,
		"quantity":  req.Quantity,
		"stock":     req.Stock,
		"lines":     int64(req.Lines),
	})
	if err != nil {
		return errors.Wrapf(err, "cel: evaluate %q", p.expr)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return errors.Errorf("cel: policy %q returned %T", p.expr, out.Value())
	}
	if !allowed {
		logger.Ctx(ctx).Info().
			Str("user_id", req.UserID).
			Str("product_id", req.ProductID).
			Int64("quantity", req.Quantity).
			Str("policy", p.expr).
			Msg("reservation rejected by admission policy")
		return domain.ErrCartLimit
	}
	return nil
}

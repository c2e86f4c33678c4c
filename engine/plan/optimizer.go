package plan

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/opentracing/opentracing-go"
	"github.com/xframe-labs/xframe/conf"
	"github.com/xframe-labs/xframe/logger"
)

// Rule 逻辑优化规则
type Rule interface {
	// Name 规则名
	Name() string
	// Apply 对计划应用规则，返回等价的新计划
	Apply(p LogicalPlan) (LogicalPlan, error)
}

// Optimizer 逻辑优化器，按配置组装规则并按序应用
type Optimizer struct {
	cfg   conf.OptimizerCfg
	rules []Rule
}

// NewOptimizer 根据配置创建优化器
func NewOptimizer(cfg conf.OptimizerCfg) *Optimizer {
	var rules []Rule
	if cfg.EnableSplitUDFs {
		rules = append(rules, NewSplitUDFs())
	}
	return &Optimizer{cfg: cfg, rules: rules}
}

// Rules 返回已启用的规则
func (o *Optimizer) Rules() []Rule {
	return o.rules
}

// Optimize 对逻辑计划应用全部已启用的规则，每条规则应用一次。
// 规则失败时放弃本次优化，错误附上规则名后上抛，不做重试。
func (o *Optimizer) Optimize(p LogicalPlan) (LogicalPlan, error) {
	runID := uuid.New().String()
	if o.cfg.DebugPlans {
		logger.Debugf("optimize %s: input fingerprint=%016x\n%s", runID, Fingerprint(p), Format(p))
	}

	current := p
	for _, rule := range o.rules {
		span := opentracing.StartSpan("optimizer.rule",
			opentracing.Tag{Key: "rule", Value: rule.Name()},
			opentracing.Tag{Key: "run_id", Value: runID})
		newPlan, err := rule.Apply(current)
		span.Finish()
		if err != nil {
			return nil, errors.Annotatef(err, "rule %s", rule.Name())
		}
		current = newPlan
	}

	if o.cfg.DebugPlans {
		logger.Debugf("optimize %s: output fingerprint=%016x\n%s", runID, Fingerprint(current), Format(current))
	}
	return current, nil
}

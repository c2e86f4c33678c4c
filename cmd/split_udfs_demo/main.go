package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/xframe-labs/xframe/conf"
	"github.com/xframe-labs/xframe/engine/expression"
	"github.com/xframe-labs/xframe/engine/plan"
	"github.com/xframe-labs/xframe/logger"
)

func main() {
	configPath := flag.String("config", "", "可选的ini配置文件路径")
	flag.Parse()

	fmt.Println("🚀 XFrame 引擎 UDF拆分规则演示")
	fmt.Println(strings.Repeat("=", 60))

	cfg := conf.NewCfg()
	if *configPath != "" {
		if _, err := cfg.Load(*configPath); err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	} else {
		cfg.Log.LogLevel = "debug"
		cfg.Optimizer.DebugPlans = true
	}

	if err := logger.InitLogger(logger.LogConfig{
		LogPath:  cfg.Log.LogPath,
		LogLevel: cfg.Log.LogLevel,
	}); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	input, err := buildDemoPlan()
	if err != nil {
		log.Fatalf("构造计划失败: %v", err)
	}

	fmt.Println("优化前:")
	fmt.Print(plan.Format(input))

	optimizer := plan.NewOptimizer(cfg.Optimizer)
	optimized, err := optimizer.Optimize(input)
	if err != nil {
		log.Fatalf("优化失败: %v", err)
	}

	fmt.Println("优化后:")
	fmt.Print(plan.Format(optimized))

	fmt.Println(" 演示完成！")
}

// buildDemoPlan 构造一个混合了串联UDF、无状态运算和list_map的演示计划
func buildDemoPlan() (plan.LogicalPlan, error) {
	scan := plan.NewTableScan("events", plan.NewSchema(
		plan.SchemaColumn{Name: "a", Type: expression.TypeInt},
		plan.SchemaColumn{Name: "b", Type: expression.TypeInt},
		plan.SchemaColumn{Name: "tags", Type: expression.TypeList},
	))

	col := expression.NewColumn
	embed := func(arg expression.Expression) *expression.UDF {
		return expression.NewUDF("embed", expression.TypeString, arg)
	}

	exprs := []expression.Expression{
		col("a"),
		expression.NewAlias(
			expression.NewUDF("classify", expression.TypeString, embed(col("a"))),
			"label",
		),
		expression.NewAlias(
			embed(expression.NewBinaryOperation(expression.OpAdd, col("a"), col("b"))),
			"score",
		),
		expression.NewAlias(
			expression.NewListMap(col("tags"), embed(col("tags"))),
			"tag_vectors",
		),
	}

	return plan.NewProjection(scan, exprs)
}

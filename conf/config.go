package conf

import (
	"path/filepath"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"
)

// Cfg 引擎配置
type Cfg struct {
	Raw *ini.File

	AppName string

	Log       LogCfg
	Optimizer OptimizerCfg
}

// LogCfg 日志配置
type LogCfg struct {
	LogLevel string `default:"info"`
	LogPath  string
}

// OptimizerCfg 优化器配置
type OptimizerCfg struct {
	// EnableSplitUDFs 是否启用UDF拆分规则
	EnableSplitUDFs bool `default:"true"`
	// DebugPlans 是否在优化前后打印计划指纹与计划树
	DebugPlans bool `default:"false"`
}

// NewCfg 创建默认配置
func NewCfg() *Cfg {
	return &Cfg{
		Raw:     ini.Empty(),
		AppName: "xframe-engine",
		Log: LogCfg{
			LogLevel: "info",
		},
		Optimizer: OptimizerCfg{
			EnableSplitUDFs: true,
		},
	}
}

// Load 从ini文件加载配置
func (cfg *Cfg) Load(configPath string) (*Cfg, error) {
	path, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, errors.Annotatef(err, "load config file %s", path)
	}
	cfg.Raw = iniFile

	cfg.parseLogCfg(cfg.Raw.Section("log"))
	cfg.parseOptimizerCfg(cfg.Raw.Section("optimizer"))
	return cfg, nil
}

// parseLogCfg 解析[log]段
func (cfg *Cfg) parseLogCfg(section *ini.Section) {
	if key, err := section.GetKey("log_level"); err == nil {
		cfg.Log.LogLevel = key.Value()
	}
	if key, err := section.GetKey("log_path"); err == nil {
		cfg.Log.LogPath = key.Value()
	}
}

// parseOptimizerCfg 解析[optimizer]段
func (cfg *Cfg) parseOptimizerCfg(section *ini.Section) {
	if key, err := section.GetKey("enable_split_udfs"); err == nil {
		cfg.Optimizer.EnableSplitUDFs = key.MustBool(true)
	}
	if key, err := section.GetKey("debug_plans"); err == nil {
		cfg.Optimizer.DebugPlans = key.MustBool(false)
	}
}

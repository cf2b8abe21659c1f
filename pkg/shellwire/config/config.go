// Package config loads shellwire settings from HCL files.
//
//	log {
//	  level = "debug"
//	  file  = "/var/log/shellwire.log"
//	}
//
//	backend {
//	  url           = "ws://127.0.0.1:9650/shell"
//	  listen        = "127.0.0.1:9650"
//	  query_timeout = "PT30S"
//	  authorization = "Bearer ${env.SHELL_TOKEN}"
//	}
//
//	daemon {
//	  address      = "/run/butlerd.sock"
//	  call_timeout = 10
//	}
//
//	push "maximizedChanged" {
//	  schedule = "@every 30s"
//	  payload  = { maximized = true }
//	}
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/joho/godotenv"
	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

const (
	DefaultBackendURL    = "ws://127.0.0.1:9650/shell"
	DefaultListenAddress = "127.0.0.1:9650"
	DefaultDialTimeout   = 30 * time.Second
	DefaultDaemonNetwork = "unix"
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 3
)

type Config struct {
	Log     LogConfig
	Backend BackendConfig
	Daemon  DaemonConfig
	Pushes  []Push
}

type LogConfig struct {
	Level      zapcore.Level
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type BackendConfig struct {
	URL           string
	Listen        string
	Authorization string
	DialTimeout   time.Duration
	QueryTimeout  time.Duration
}

type DaemonConfig struct {
	Network     string
	Address     string
	CallTimeout time.Duration
	MaxRetries  int
}

// Push is a packet the stub backend sends to every shell on a cron schedule.
type Push struct {
	Kind     kinds.MessageKind
	Schedule string
	Payload  any
	Range    hcl.Range
}

// Default returns the settings used when no file overrides them.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      zapcore.InfoLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
		Backend: BackendConfig{
			URL:          DefaultBackendURL,
			Listen:       DefaultListenAddress,
			DialTimeout:  DefaultDialTimeout,
			QueryTimeout: rpc.DefaultTimeout,
		},
		Daemon: DaemonConfig{
			Network:     DefaultDaemonNetwork,
			CallTimeout: daemon.DefaultCallTimeout,
			MaxRetries:  daemon.DefaultMaxRetries,
		},
	}
}

type fileSchema struct {
	Log     *logBlock     `hcl:"log,block"`
	Backend *backendBlock `hcl:"backend,block"`
	Daemon  *daemonBlock  `hcl:"daemon,block"`
	Pushes  []pushBlock   `hcl:"push,block"`
}

type logBlock struct {
	Level      string `hcl:"level,optional"`
	File       string `hcl:"file,optional"`
	MaxSizeMB  int    `hcl:"max_size_mb,optional"`
	MaxBackups int    `hcl:"max_backups,optional"`
}

type backendBlock struct {
	URL           string         `hcl:"url,optional"`
	Listen        string         `hcl:"listen,optional"`
	Authorization string         `hcl:"authorization,optional"`
	DialTimeout   hcl.Expression `hcl:"dial_timeout,optional"`
	QueryTimeout  hcl.Expression `hcl:"query_timeout,optional"`
}

type daemonBlock struct {
	Network     string         `hcl:"network,optional"`
	Address     string         `hcl:"address,optional"`
	CallTimeout hcl.Expression `hcl:"call_timeout,optional"`
	MaxRetries  *int           `hcl:"max_retries,optional"`
}

type pushBlock struct {
	Kind     string         `hcl:"kind,label"`
	Schedule string         `hcl:"schedule"`
	Payload  hcl.Expression `hcl:"payload,optional"`
	DefRange hcl.Range      `hcl:",def_range"`
}

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
	dotenv  []string
	loadEnv bool
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger: zap.NewNop(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithSources adds configuration sources: file or directory paths, raw HCL as []byte,
// or an fs.FS.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// WithDotEnv loads the given .env files into the process environment before the
// configuration is evaluated. Without arguments, ./.env is loaded if present.
// Variables already set are not overridden.
func (cb *ConfigBuilder) WithDotEnv(files ...string) *ConfigBuilder {
	cb.loadEnv = true
	cb.dotenv = append(cb.dotenv, files...)
	return cb
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	config := Default()

	if cb.loadEnv {
		diags = diags.Extend(cb.loadDotEnv())
		if diags.HasErrors() {
			return nil, diags
		}
	}

	bodies, parseDiags := ParseConfigFiles(cb.sources...)
	diags = diags.Extend(parseDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": GetEnvObject(),
		},
		Functions: GetFunctions(),
	}

	var schema fileSchema
	diags = diags.Extend(gohcl.DecodeBody(hcl.MergeBodies(bodies), evalCtx, &schema))
	if diags.HasErrors() {
		return nil, diags
	}

	diags = diags.Extend(config.applyLog(schema.Log))
	diags = diags.Extend(config.applyBackend(evalCtx, schema.Backend))
	diags = diags.Extend(config.applyDaemon(evalCtx, schema.Daemon))
	for _, push := range schema.Pushes {
		diags = diags.Extend(config.addPush(evalCtx, push))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	cb.logger.Debug("Config loaded", zap.Int("sources", len(cb.sources)), zap.Int("pushes", len(config.Pushes)))
	return config, diags
}

func (cb *ConfigBuilder) loadDotEnv() hcl.Diagnostics {
	if len(cb.dotenv) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(cb.dotenv...); err != nil {
		return hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Failed to load .env file",
			Detail:   err.Error(),
		}}
	}
	return nil
}

func (c *Config) applyLog(block *logBlock) hcl.Diagnostics {
	if block == nil {
		return nil
	}

	if block.Level != "" {
		level, err := zapcore.ParseLevel(block.Level)
		if err != nil {
			return hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Invalid log level",
				Detail:   err.Error(),
			}}
		}
		c.Log.Level = level
	}
	c.Log.File = block.File
	if block.MaxSizeMB > 0 {
		c.Log.MaxSizeMB = block.MaxSizeMB
	}
	if block.MaxBackups > 0 {
		c.Log.MaxBackups = block.MaxBackups
	}
	return nil
}

func (c *Config) applyBackend(evalCtx *hcl.EvalContext, block *backendBlock) hcl.Diagnostics {
	if block == nil {
		return nil
	}

	var diags hcl.Diagnostics
	if block.URL != "" {
		c.Backend.URL = block.URL
	}
	if block.Listen != "" {
		c.Backend.Listen = block.Listen
	}
	c.Backend.Authorization = block.Authorization

	if IsExpressionProvided(block.DialTimeout) {
		d, addDiags := ParseDuration(evalCtx, block.DialTimeout)
		diags = diags.Extend(addDiags)
		c.Backend.DialTimeout = d
	}
	if IsExpressionProvided(block.QueryTimeout) {
		d, addDiags := ParseDuration(evalCtx, block.QueryTimeout)
		diags = diags.Extend(addDiags)
		c.Backend.QueryTimeout = d
	}
	return diags
}

func (c *Config) applyDaemon(evalCtx *hcl.EvalContext, block *daemonBlock) hcl.Diagnostics {
	if block == nil {
		return nil
	}

	var diags hcl.Diagnostics
	if block.Network != "" {
		c.Daemon.Network = block.Network
	}
	c.Daemon.Address = block.Address

	if IsExpressionProvided(block.CallTimeout) {
		d, addDiags := ParseDuration(evalCtx, block.CallTimeout)
		diags = diags.Extend(addDiags)
		c.Daemon.CallTimeout = d
	}
	if block.MaxRetries != nil {
		if *block.MaxRetries < 1 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid max_retries",
				Detail:   "max_retries must be at least 1",
			})
		} else {
			c.Daemon.MaxRetries = *block.MaxRetries
		}
	}
	return diags
}

func (c *Config) addPush(evalCtx *hcl.EvalContext, block pushBlock) hcl.Diagnostics {
	kind, err := catalog.Shell.Resolve(block.Kind, kinds.DirectionPacket)
	if err != nil {
		return hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid push kind",
			Detail:   fmt.Sprintf("%q is not a packet the backend can push: %v", block.Kind, err),
			Subject:  block.DefRange.Ptr(),
		}}
	}

	push := Push{
		Kind:     kind,
		Schedule: block.Schedule,
		Range:    block.DefRange,
	}

	if IsExpressionProvided(block.Payload) {
		val, diags := block.Payload.Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}
		payload, err := go2cty2go.CtyToAny(val)
		if err != nil {
			return hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Invalid push payload",
				Detail:   err.Error(),
				Subject:  block.Payload.Range().Ptr(),
			}}
		}
		push.Payload = payload
	}

	c.Pushes = append(c.Pushes, push)
	return nil
}

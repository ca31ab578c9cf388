package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del motor.
type Config struct {
	Analysis AnalysisConfig    `yaml:"analysis"`
	Trading  TradingConfig     `yaml:"trading"`
	Schedule ScheduleConfig    `yaml:"schedule"`
	Pairs    []PairConfig      `yaml:"pairs"`
	Sectors  map[string]string `yaml:"sectors"` // símbolo → sector
	Storage  StorageConfig     `yaml:"storage"`
	Sim      SimConfig         `yaml:"sim"`
	API      APIConfig         `yaml:"api"`
	Log      LogConfig         `yaml:"log"`
}

// AnalysisConfig controla el analizador de pares y sus filtros.
type AnalysisConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Timeframe       string `yaml:"timeframe"`
	Lookback        int    `yaml:"lookback"`
	MinObservations int    `yaml:"min_observations"` // solapamiento mínimo entre series

	// Umbrales de filtro (AND de todos)
	R2Min               float64 `yaml:"r2_min"`
	BetaMax             float64 `yaml:"beta_max"`
	CoefVarMax          float64 `yaml:"coef_var_max"`
	ADFPMax             float64 `yaml:"adf_p_max"`
	CointPMax           float64 `yaml:"coint_p_max"`
	ZScoreThreshold     float64 `yaml:"zscore_threshold"`
	EnableCointegration bool    `yaml:"enable_cointegration"`

	// Política del ranker: conservar solo pares del mismo sector
	SameSectorOnly bool `yaml:"same_sector_only"`
	MaxCandidates  int  `yaml:"max_candidates"`

	// Distancia del stop sugerido, en desviaciones del residuo
	StopZScore float64 `yaml:"stop_zscore"`
}

// TradingConfig controla el lifecycle manager.
type TradingConfig struct {
	MagicPrefix   int64   `yaml:"magic_prefix"`
	BaseVolume    float64 `yaml:"base_volume"`
	VolumeStep    float64 `yaml:"volume_step"`
	MaxOpenGroups int     `yaml:"max_open_groups"`
	ProfitCap     float64 `yaml:"profit_cap"` // moneda de la cuenta, por grupo
	LossCap       float64 `yaml:"loss_cap"`

	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`
	GatewayTimeoutSeconds  int `yaml:"gateway_timeout_seconds"`

	// Ciclos consecutivos de fallo de gateway antes de escalar a alerta
	GatewayAlertThreshold int `yaml:"gateway_alert_threshold"`
}

// ScheduleConfig controla el risk controller programado.
// Las horas son "HH:MM" en la zona horaria de trading.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"`

	BreakEvenStart string `yaml:"break_even_start"` // ventana del job continuo
	BreakEvenEnd   string `yaml:"break_even_end"`
	AdjustAt       string `yaml:"adjust_at"`  // ajuste de posiciones (15:10)
	PurgeAt        string `yaml:"purge_at"`   // purga de pendientes (15:20)
	FlattenAt      string `yaml:"flatten_at"` // cierre forzado (16:01)

	// Umbrales del job continuo (moneda de la cuenta, por pata)
	BreakEvenProfit   float64 `yaml:"break_even_profit"`
	ProfitCloseAmount float64 `yaml:"profit_close_amount"`

	// Umbrales del job de las 15:10 (% del valor de entrada de la pata)
	AdjustClosePct     float64 `yaml:"adjust_close_pct"`     // > → cerrar
	AdjustBreakEvenPct float64 `yaml:"adjust_breakeven_pct"` // [este, close): stop a entrada
	TPShrinkFactor     float64 `yaml:"tp_shrink_factor"`     // resto: TP × factor
	MinStopDistance    float64 `yaml:"min_stop_distance"`    // distancia mínima del instrumento
}

// PairConfig define un par candidato a analizar.
type PairConfig struct {
	Dependent   string `yaml:"dependent"`
	Independent string `yaml:"independent"`
}

// StorageConfig controla dónde se persiste el archivo.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// SimConfig parametriza el feed sintético y el gateway simulado.
type SimConfig struct {
	Seed       int64   `yaml:"seed"`
	Spread     float64 `yaml:"spread"`
	Volatility float64 `yaml:"volatility"`

	// Precio inicial de cada símbolo independiente
	Bases map[string]float64 `yaml:"bases"`

	// Símbolo dependiente → relación lineal con su base
	Relations map[string]SimRelation `yaml:"relations"`
}

// SimRelation define symbol = alpha + beta·base + ruido AR(1).
type SimRelation struct {
	Base     string  `yaml:"base"`
	Alpha    float64 `yaml:"alpha"`
	Beta     float64 `yaml:"beta"`
	NoiseStd float64 `yaml:"noise_std"`
	Phi      float64 `yaml:"phi"`
}

// APIConfig controla el servidor HTTP de estado/metrics.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return &cfg, nil
}

// AnalysisInterval devuelve el intervalo de análisis como time.Duration.
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.Analysis.IntervalSeconds) * time.Second
}

// MonitorInterval devuelve el intervalo de reconciliación como time.Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Trading.MonitorIntervalSeconds) * time.Second
}

// GatewayTimeout devuelve el timeout por llamada al gateway.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Trading.GatewayTimeoutSeconds) * time.Second
}

// Location devuelve la zona horaria de trading configurada.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// SectorOf devuelve el sector del símbolo, o "" si no está mapeado.
func (c *Config) SectorOf(symbol string) string {
	return c.Sectors[symbol]
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Analysis.IntervalSeconds <= 0 {
		cfg.Analysis.IntervalSeconds = 30
	}
	if cfg.Analysis.Timeframe == "" {
		cfg.Analysis.Timeframe = "M15"
	}
	if cfg.Analysis.Lookback <= 0 {
		cfg.Analysis.Lookback = 120
	}
	if cfg.Analysis.MinObservations <= 0 {
		cfg.Analysis.MinObservations = 20
	}
	if cfg.Analysis.R2Min <= 0 {
		cfg.Analysis.R2Min = 0.5
	}
	if cfg.Analysis.BetaMax <= 0 {
		cfg.Analysis.BetaMax = 2.0
	}
	if cfg.Analysis.CoefVarMax <= 0 {
		cfg.Analysis.CoefVarMax = 5000.0
	}
	if cfg.Analysis.ADFPMax <= 0 {
		cfg.Analysis.ADFPMax = 0.05
	}
	if cfg.Analysis.CointPMax <= 0 {
		cfg.Analysis.CointPMax = 0.05
	}
	if cfg.Analysis.ZScoreThreshold <= 0 {
		cfg.Analysis.ZScoreThreshold = 2.0
	}
	if cfg.Analysis.MaxCandidates <= 0 {
		cfg.Analysis.MaxCandidates = 10
	}
	if cfg.Analysis.StopZScore <= 0 {
		cfg.Analysis.StopZScore = 3.0
	}
	if cfg.Trading.MagicPrefix <= 0 {
		cfg.Trading.MagicPrefix = 77
	}
	if cfg.Trading.BaseVolume <= 0 {
		cfg.Trading.BaseVolume = 100
	}
	if cfg.Trading.VolumeStep <= 0 {
		cfg.Trading.VolumeStep = 1
	}
	if cfg.Trading.MaxOpenGroups <= 0 {
		cfg.Trading.MaxOpenGroups = 5
	}
	if cfg.Trading.ProfitCap <= 0 {
		cfg.Trading.ProfitCap = 120
	}
	if cfg.Trading.LossCap <= 0 {
		cfg.Trading.LossCap = 120
	}
	if cfg.Trading.MonitorIntervalSeconds <= 0 {
		cfg.Trading.MonitorIntervalSeconds = 10
	}
	if cfg.Trading.GatewayTimeoutSeconds <= 0 {
		cfg.Trading.GatewayTimeoutSeconds = 5
	}
	if cfg.Trading.GatewayAlertThreshold <= 0 {
		cfg.Trading.GatewayAlertThreshold = 5
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "America/Sao_Paulo"
	}
	if cfg.Schedule.BreakEvenStart == "" {
		cfg.Schedule.BreakEvenStart = "10:00"
	}
	if cfg.Schedule.BreakEvenEnd == "" {
		cfg.Schedule.BreakEvenEnd = "16:00"
	}
	if cfg.Schedule.AdjustAt == "" {
		cfg.Schedule.AdjustAt = "15:10"
	}
	if cfg.Schedule.PurgeAt == "" {
		cfg.Schedule.PurgeAt = "15:20"
	}
	if cfg.Schedule.FlattenAt == "" {
		cfg.Schedule.FlattenAt = "16:01"
	}
	if cfg.Schedule.BreakEvenProfit <= 0 {
		cfg.Schedule.BreakEvenProfit = 25
	}
	if cfg.Schedule.ProfitCloseAmount <= 0 {
		cfg.Schedule.ProfitCloseAmount = 60
	}
	if cfg.Schedule.AdjustClosePct <= 0 {
		cfg.Schedule.AdjustClosePct = 25
	}
	if cfg.Schedule.AdjustBreakEvenPct <= 0 {
		cfg.Schedule.AdjustBreakEvenPct = 15
	}
	if cfg.Schedule.TPShrinkFactor <= 0 {
		cfg.Schedule.TPShrinkFactor = 0.6
	}
	if cfg.Schedule.MinStopDistance <= 0 {
		cfg.Schedule.MinStopDistance = 0.01
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "pairtrader.db"
	}
	if cfg.Sim.Seed == 0 {
		cfg.Sim.Seed = 42
	}
	if cfg.Sim.Spread <= 0 {
		cfg.Sim.Spread = 0.02
	}
	if cfg.Sim.Volatility <= 0 {
		cfg.Sim.Volatility = 0.05
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":9850"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate comprueba las combinaciones que no pueden corregirse con defaults.
func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	for _, field := range []struct{ name, val string }{
		{"break_even_start", cfg.Schedule.BreakEvenStart},
		{"break_even_end", cfg.Schedule.BreakEvenEnd},
		{"adjust_at", cfg.Schedule.AdjustAt},
		{"purge_at", cfg.Schedule.PurgeAt},
		{"flatten_at", cfg.Schedule.FlattenAt},
	} {
		if _, err := time.Parse("15:04", field.val); err != nil {
			return fmt.Errorf("invalid %s %q: want HH:MM", field.name, field.val)
		}
	}
	if cfg.Schedule.AdjustBreakEvenPct >= cfg.Schedule.AdjustClosePct {
		return fmt.Errorf("adjust_breakeven_pct (%.1f) must be below adjust_close_pct (%.1f)",
			cfg.Schedule.AdjustBreakEvenPct, cfg.Schedule.AdjustClosePct)
	}
	for sym, rel := range cfg.Sim.Relations {
		if _, ok := cfg.Sim.Bases[rel.Base]; !ok {
			return fmt.Errorf("sim.relations[%s]: base %q has no entry in sim.bases", sym, rel.Base)
		}
	}
	for i, p := range cfg.Pairs {
		if p.Dependent == "" || p.Independent == "" {
			return fmt.Errorf("pairs[%d]: dependent and independent are required", i)
		}
		if p.Dependent == p.Independent {
			return fmt.Errorf("pairs[%d]: %s cannot pair with itself", i, p.Dependent)
		}
	}
	return nil
}

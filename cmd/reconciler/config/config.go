package config

import (
	"fmt"
	"strings"
	"time"

	"rate-reconciliation-service/internal/adjustment"
	"rate-reconciliation-service/internal/batch"
	"rate-reconciliation-service/internal/governance"
	"rate-reconciliation-service/internal/matcher"
	"rate-reconciliation-service/internal/parsers"
	"rate-reconciliation-service/internal/reconciler"
	"rate-reconciliation-service/internal/reporter"
	"rate-reconciliation-service/internal/search"
	"rate-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

const dateLayout = "2006-01-02"

// SetDefaults registers the default value of every configuration key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.output", string(logger.StderrOutput))
	v.SetDefault("log.file", "")
	v.SetDefault("log.caller", false)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "./data")
	v.SetDefault("store.fixtures", "")

	v.SetDefault("thresholds.service", 2.0)
	v.SetDefault("thresholds.kitchen", 2.0)
	v.SetDefault("thresholds.appliances", 2.0)
	v.SetDefault("thresholds.absolute_floor", 0.01)
	v.SetDefault("locations.service", "")
	v.SetDefault("locations.kitchen", "")

	v.SetDefault("search.posting_date_floor", "2025-01-01")

	v.SetDefault("batch.rate_window", batch.DefaultRateWindow)
	v.SetDefault("batch.review_window", batch.DefaultReviewWindow)

	g := governance.DefaultConfig()
	v.SetDefault("governance.limit", g.Limit)
	v.SetDefault("governance.safety_margin", g.SafetyMargin)
	v.SetDefault("governance.load_cost", g.LoadCost)
	v.SetDefault("governance.save_cost", g.SaveCost)
	v.SetDefault("governance.create_cost", g.CreateCost)
	v.SetDefault("governance.search_cost", g.SearchCost)

	a := adjustment.DefaultConfig()
	v.SetDefault("adjustment.offset_account", a.OffsetAccount)
	v.SetDefault("adjustment.accrued_purchases_account", a.AccruedPurchasesAccount)
	v.SetDefault("adjustment.cogs_account", a.COGSAccount)
	v.SetDefault("adjustment.known_departments", a.KnownDepartments)
	v.SetDefault("adjustment.default_department", a.DefaultDepartment)
	v.SetDefault("adjustment.tolerance", a.Tolerance.String())

	p := parsers.DefaultParseConfig()
	v.SetDefault("input.delimiter", string(p.Delimiter))
	v.SetDefault("input.max_errors", p.MaxErrors)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", "5s")
}

// CreateLoggerConfig creates the logger configuration
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := &logger.Config{
		Level:      logger.Level(strings.ToLower(v.GetString("log.level"))),
		Format:     logger.Format(strings.ToLower(v.GetString("log.format"))),
		Output:     logger.Output(strings.ToLower(v.GetString("log.output"))),
		File:       v.GetString("log.file"),
		CallerInfo: v.GetBool("log.caller"),
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	return config, nil
}

// StoreConfig selects and locates the document store
type StoreConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	Fixtures string `json:"fixtures,omitempty"`
}

// Validate checks the store configuration
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (expected memory or sqlite)", c.Driver)
	}
	return nil
}

// CreateStoreConfig creates the document store configuration
func CreateStoreConfig(v *viper.Viper) (*StoreConfig, error) {
	config := &StoreConfig{
		Driver:   strings.ToLower(v.GetString("store.driver")),
		Path:     v.GetString("store.path"),
		Fixtures: v.GetString("store.fixtures"),
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	return config, nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return d, nil
}

// CreateThresholdConfig creates the pairing thresholds and location buckets
func CreateThresholdConfig(v *viper.Viper) (*matcher.ThresholdConfig, error) {
	config := matcher.DefaultThresholdConfig()

	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"thresholds.service", &config.ServicePercent},
		{"thresholds.kitchen", &config.KitchenPercent},
		{"thresholds.appliances", &config.AppliancesPercent},
		{"thresholds.absolute_floor", &config.AbsoluteFloor},
	}
	for _, f := range fields {
		d, err := getDecimal(v, f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}
	config.ServiceLocation = v.GetString("locations.service")
	config.KitchenLocation = v.GetString("locations.kitchen")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold config: %w", err)
	}
	return config, nil
}

// CreateVarianceConfig creates the variance service configuration
func CreateVarianceConfig(v *viper.Viper) (*reconciler.Config, error) {
	thresholds, err := CreateThresholdConfig(v)
	if err != nil {
		return nil, err
	}
	return &reconciler.Config{Thresholds: thresholds}, nil
}

// CreateSearchConfig creates the fixed search criteria
func CreateSearchConfig(v *viper.Viper) (*search.Config, error) {
	raw := v.GetString("search.posting_date_floor")
	floor, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("search.posting_date_floor: expected YYYY-MM-DD, got %q", raw)
	}
	return &search.Config{PostingDateFloor: floor}, nil
}

// CreateGovernanceConfig creates the operation budget configuration
func CreateGovernanceConfig(v *viper.Viper) (*governance.Config, error) {
	config := &governance.Config{
		Limit:        v.GetInt("governance.limit"),
		SafetyMargin: v.GetInt("governance.safety_margin"),
		LoadCost:     v.GetInt("governance.load_cost"),
		SaveCost:     v.GetInt("governance.save_cost"),
		CreateCost:   v.GetInt("governance.create_cost"),
		SearchCost:   v.GetInt("governance.search_cost"),
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governance config: %w", err)
	}
	return config, nil
}

// CreateAdjustmentConfig creates the closed-period adjustment accounts
func CreateAdjustmentConfig(v *viper.Viper) (*adjustment.Config, error) {
	tolerance, err := getDecimal(v, "adjustment.tolerance")
	if err != nil {
		return nil, err
	}
	config := &adjustment.Config{
		OffsetAccount:           v.GetString("adjustment.offset_account"),
		AccruedPurchasesAccount: v.GetString("adjustment.accrued_purchases_account"),
		COGSAccount:             v.GetString("adjustment.cogs_account"),
		KnownDepartments:        v.GetStringSlice("adjustment.known_departments"),
		DefaultDepartment:       v.GetString("adjustment.default_department"),
		Tolerance:               tolerance,
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adjustment config: %w", err)
	}
	return config, nil
}

// Windows holds the batch sizes of the two item kinds
type Windows struct {
	Rate   int
	Review int
}

// CreateWindows reads the batch windows
func CreateWindows(v *viper.Viper) (Windows, error) {
	w := Windows{Rate: v.GetInt("batch.rate_window"), Review: v.GetInt("batch.review_window")}
	if w.Rate <= 0 || w.Review <= 0 {
		return Windows{}, fmt.Errorf("batch windows must be positive: rate=%d review=%d", w.Rate, w.Review)
	}
	return w, nil
}

// CreateScheduledConfig assembles the autonomous run configuration
func CreateScheduledConfig(v *viper.Viper, filter search.Filter, adjustClosed bool) (*reconciler.ScheduledConfig, error) {
	variance, err := CreateVarianceConfig(v)
	if err != nil {
		return nil, err
	}
	searchConfig, err := CreateSearchConfig(v)
	if err != nil {
		return nil, err
	}
	governanceConfig, err := CreateGovernanceConfig(v)
	if err != nil {
		return nil, err
	}
	adjustmentConfig, err := CreateAdjustmentConfig(v)
	if err != nil {
		return nil, err
	}
	windows, err := CreateWindows(v)
	if err != nil {
		return nil, err
	}

	config := &reconciler.ScheduledConfig{
		Variance:            variance,
		Search:              searchConfig,
		Governance:          governanceConfig,
		Adjustment:          adjustmentConfig,
		Filter:              filter,
		Window:              windows.Rate,
		AdjustClosedPeriods: adjustClosed,
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduled run config: %w", err)
	}
	return config, nil
}

// CreateParseConfig creates the CSV export reader configuration
func CreateParseConfig(v *viper.Viper) (*parsers.ParseConfig, error) {
	config := parsers.DefaultParseConfig()

	delimiter := v.GetString("input.delimiter")
	if delimiter == `\t` || delimiter == "tab" {
		delimiter = "\t"
	}
	runes := []rune(delimiter)
	if len(runes) != 1 {
		return nil, fmt.Errorf("input.delimiter must be a single character, got %q", delimiter)
	}
	config.Delimiter = runes[0]
	config.MaxErrors = v.GetInt("input.max_errors")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input config: %w", err)
	}
	return config, nil
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// CreateServerConfig creates the HTTP listener configuration
func CreateServerConfig(v *viper.Viper) (*ServerConfig, error) {
	timeout, err := time.ParseDuration(v.GetString("server.shutdown_timeout"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("server.shutdown_timeout: invalid duration %q", v.GetString("server.shutdown_timeout"))
	}
	addr := v.GetString("server.addr")
	if addr == "" {
		return nil, fmt.Errorf("server.addr is required")
	}
	return &ServerConfig{Addr: addr, ShutdownTimeout: timeout}, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, sortByVariance bool, maxItems int) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.SortByVariance = sortByVariance
	config.MaxItems = maxItems

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

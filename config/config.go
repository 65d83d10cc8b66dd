package config

import (
	"context"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type contextKey string

func (c contextKey) String() string {
	return "wrapline/config/" + string(c)
}

const ctxKeyConfiguration = contextKey("configurationKey")

// ToContext adds the kit configuration to the current supplied context.
func ToContext(ctx context.Context, config any) context.Context {
	return context.WithValue(ctx, ctxKeyConfiguration, config)
}

// FromContext extracts the kit configuration from the supplied context if any exist.
func FromContext[T any](ctx context.Context) T {
	if cfg, ok := ctx.Value(ctxKeyConfiguration).(T); ok {
		return cfg
	}
	var zero T
	return zero
}

// FromEnv convenience method to process configs.
func FromEnv[T any]() (T, error) {
	return env.ParseAs[T]()
}

// FillEnv convenience method to fill a config object with environment data.
func FillEnv(v any) error {
	return env.Parse(v)
}

// FromFile decodes a TOML configuration file and then overlays environment
// variables on top, so deployment environments always win over checked-in files.
func FromFile[T any](path string) (T, error) {
	var cfg T
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Configuration carries every tunable of the Wrapline client core. Components
// depend on the narrow getter interfaces below rather than on this struct.
type Configuration struct {
	LogLevel      string `envDefault:"info"                      env:"WRAPLINE_LOG_LEVEL"       toml:"log_level"`
	LogTimeFormat string `envDefault:"2006-01-02T15:04:05Z07:00" env:"WRAPLINE_LOG_TIME_FORMAT" toml:"log_time_format"`
	LogColored    bool   `envDefault:"true"                      env:"WRAPLINE_LOG_COLORED"     toml:"log_colored"`

	LogShowStackTrace bool `envDefault:"false" env:"WRAPLINE_LOG_SHOW_STACK_TRACE" toml:"log_show_stack_trace"`

	ServiceName        string `envDefault:"wrapline" env:"WRAPLINE_SERVICE_NAME"        toml:"service_name"`
	ServiceEnvironment string `envDefault:""         env:"WRAPLINE_SERVICE_ENVIRONMENT" toml:"service_environment"`
	ServiceVersion     string `envDefault:""         env:"WRAPLINE_SERVICE_VERSION"     toml:"service_version"`

	APIBaseURL    string `envDefault:"https://wrapline.shop" env:"WRAPLINE_API_BASE_URL"   toml:"api_base_url"`
	AnalyticsPath string `envDefault:"/api/analytics"        env:"WRAPLINE_ANALYTICS_PATH" toml:"analytics_path"`
	LocalesPath   string `envDefault:"/locales"              env:"WRAPLINE_LOCALES_PATH"   toml:"locales_path"`

	Persona string `envDefault:"guest" env:"WRAPLINE_PERSONA" toml:"persona"`

	DefaultLocale    string   `envDefault:"en"                env:"WRAPLINE_DEFAULT_LOCALE"    toml:"default_locale"`
	SupportedLocales []string `envDefault:"en,hi,fr,de,ja,es" env:"WRAPLINE_SUPPORTED_LOCALES" toml:"supported_locales"`

	ConsentDir       string        `envDefault:""      env:"WRAPLINE_CONSENT_DIR"        toml:"consent_dir"`
	ConsentMarkerTTL time.Duration `envDefault:"8760h" env:"WRAPLINE_CONSENT_MARKER_TTL" toml:"consent_marker_ttl"`

	BusURL          string `envDefault:"mem://wrapline-signals" env:"WRAPLINE_BUS_URL"           toml:"bus_url"`
	SignalQueueName string `envDefault:"wrapline-signals"       env:"WRAPLINE_SIGNAL_QUEUE_NAME" toml:"signal_queue_name"`

	// Worker pool settings
	WorkerPoolCPUFactorForWorkerCount int    `envDefault:"2"  env:"WRAPLINE_WORKER_POOL_CPU_FACTOR_FOR_WORKER_COUNT" toml:"worker_pool_cpu_factor_for_worker_count"`
	WorkerPoolCapacity                int    `envDefault:"16" env:"WRAPLINE_WORKER_POOL_CAPACITY"                    toml:"worker_pool_capacity"`
	WorkerPoolExpiryDuration          string `envDefault:"1s" env:"WRAPLINE_WORKER_POOL_EXPIRY_DURATION"             toml:"worker_pool_expiry_duration"`
}

type ConfigurationService interface {
	Name() string
	Environment() string
	Version() string
}

var _ ConfigurationService = new(Configuration)

func (c *Configuration) Name() string {
	return c.ServiceName
}

func (c *Configuration) Environment() string {
	return c.ServiceEnvironment
}

func (c *Configuration) Version() string {
	return c.ServiceVersion
}

type ConfigurationLogLevel interface {
	LoggingLevel() string
	LoggingTimeFormat() string
	LoggingColored() bool
	LoggingShowStackTrace() bool
}

var _ ConfigurationLogLevel = new(Configuration)

func (c *Configuration) LoggingLevel() string {
	return c.LogLevel
}

func (c *Configuration) LoggingTimeFormat() string {
	return c.LogTimeFormat
}

func (c *Configuration) LoggingColored() bool {
	return c.LogColored
}

func (c *Configuration) LoggingShowStackTrace() bool {
	return c.LogShowStackTrace
}

type ConfigurationAnalytics interface {
	GetPersona() string
	GetAnalyticsEndpoint() string
}

var _ ConfigurationAnalytics = new(Configuration)

func (c *Configuration) GetPersona() string {
	return c.Persona
}

func (c *Configuration) GetAnalyticsEndpoint() string {
	return joinURL(c.APIBaseURL, c.AnalyticsPath)
}

type ConfigurationLocalization interface {
	GetDefaultLocale() string
	GetSupportedLocales() []string
	GetBundleEndpoint(locale string) string
}

var _ ConfigurationLocalization = new(Configuration)

func (c *Configuration) GetDefaultLocale() string {
	return c.DefaultLocale
}

func (c *Configuration) GetSupportedLocales() []string {
	return c.SupportedLocales
}

func (c *Configuration) GetBundleEndpoint(locale string) string {
	return joinURL(c.APIBaseURL, c.LocalesPath) + "/" + locale + "/bundle.json"
}

type ConfigurationConsent interface {
	GetConsentDir() string
	GetConsentMarkerTTL() time.Duration
}

var _ ConfigurationConsent = new(Configuration)

func (c *Configuration) GetConsentDir() string {
	return c.ConsentDir
}

func (c *Configuration) GetConsentMarkerTTL() time.Duration {
	if c.ConsentMarkerTTL <= 0 {
		return 365 * 24 * time.Hour
	}
	return c.ConsentMarkerTTL
}

type ConfigurationBus interface {
	GetBusURL() string
	GetSignalQueueName() string
}

var _ ConfigurationBus = new(Configuration)

func (c *Configuration) GetBusURL() string {
	return c.BusURL
}

func (c *Configuration) GetSignalQueueName() string {
	return c.SignalQueueName
}

type ConfigurationWorkerPool interface {
	GetCPUFactor() int
	GetCapacity() int
	GetExpiryDuration() time.Duration
}

var _ ConfigurationWorkerPool = new(Configuration)

func (c *Configuration) GetCPUFactor() int {
	return c.WorkerPoolCPUFactorForWorkerCount
}

func (c *Configuration) GetCapacity() int {
	return c.WorkerPoolCapacity
}

func (c *Configuration) GetExpiryDuration() time.Duration {
	d, err := time.ParseDuration(c.WorkerPoolExpiryDuration)
	if err != nil {
		return time.Second
	}
	return d
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

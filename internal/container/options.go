package container

import "time"

// Bus values select the message transport.
const (
	BusRedis  = "redis"
	BusMemory = "memory"
)

// Options configures every command. The server reads them from flags and SERVICE_* env vars.
type Options struct {
	Port    int    `default:"8888"                  help:"Port to listen on"                              short:"p"`
	BaseURL string `default:"http://localhost:8888" help:"Public base URL for tenants without a domain"`

	RedisAddr   string `default:"localhost:6379" help:"Redis server address"                         short:"r"`
	DatabaseURL string `default:""               help:"Postgres connection string, empty for in-memory storage"`
	Bus         string `default:"redis"          help:"Access log transport: redis, or memory to run without Redis"`

	LogFormat string `default:"console" help:"Log encoding: console or json"`

	JWTSecret       string `default:"" help:"HS256 secret for tenant tokens"`
	SchedulerSecret string `default:"" help:"Bearer secret for /internal endpoints, empty leaves them open"`

	CodeLength         int `default:"8"    help:"Length of generated short codes" short:"c"`
	CacheTTLSeconds    int `default:"300"  help:"Short link cache TTL"`
	AccessLogTimeoutMS int `default:"2000" help:"Timeout for publishing one access log"`

	EstimatorRules           string `default:""   help:"YAML file overriding the estimator rule tables"`
	MetricTimeoutSeconds     int    `default:"10" help:"Per-metric timeout of an aggregation run"`
	AggregateIntervalMinutes int    `default:"5"  help:"Interval between incremental aggregation runs"`
}

// withoutRedis reports whether the process runs on in-memory transport, cache and limiter.
func (o *Options) withoutRedis() bool {
	return o.Bus == BusMemory
}

func (o *Options) cacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSeconds) * time.Second
}

func (o *Options) accessLogTimeout() time.Duration {
	return time.Duration(o.AccessLogTimeoutMS) * time.Millisecond
}

func (o *Options) metricTimeout() time.Duration {
	return time.Duration(o.MetricTimeoutSeconds) * time.Second
}

// AggregateInterval is the period of the aggregator command's ticker.
func (o *Options) AggregateInterval() time.Duration {
	return time.Duration(o.AggregateIntervalMinutes) * time.Minute
}

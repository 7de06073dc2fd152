package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "CRM_CONNECTOR"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	URL_BASE_PATH                  = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"

	BROKERS                = "Kafka_Brokers"
	OUTCOMES_TOPIC         = "Kafka_Call_Outcomes_Topic"
	OUTCOMES_GROUP_ID      = "Kafka_Call_Outcomes_Group_Id"
	ALERTS_TOPIC           = "Kafka_Alerts_Topic"
	ALERTS_BATCH_SIZE      = "Kafka_Alerts_Batch_Size"
	ALERTS_BATCH_BYTES     = "Kafka_Alerts_Batch_Bytes"
	KAFKA_USERNAME         = "Kafka_Username"
	KAFKA_PASSWORD         = "Kafka_Password"
	KAFKA_SASL_MECHANISM   = "Kafka_SASL_Mechanism"
	KAFKA_CA               = "Kafka_CA"
	DEFAULT_BROKER_ADDRESS = "kafka:29092"

	SYNC_DATABASE_IMPL          = "Sync_Database_Impl"
	SYNC_DATABASE_HOST          = "Sync_Database_Host"
	SYNC_DATABASE_PORT          = "Sync_Database_Port"
	SYNC_DATABASE_USER          = "Sync_Database_User"
	SYNC_DATABASE_PASSWORD      = "Sync_Database_Password"
	SYNC_DATABASE_NAME          = "Sync_Database_Name"
	SYNC_DATABASE_SSL_MODE      = "Sync_Database_SSL_Mode"
	SYNC_DATABASE_SSL_ROOT_CERT = "Sync_Database_SSL_Root_Cert"
	SYNC_DATABASE_QUERY_TIMEOUT = "Sync_Database_Query_Timeout"

	RATE_LIMITER_REDIS_ADDRESS  = "Rate_Limiter_Redis_Address"
	RATE_LIMITER_REDIS_PASSWORD = "Rate_Limiter_Redis_Password"
	RATE_LIMITER_REDIS_DB       = "Rate_Limiter_Redis_DB"

	SCHEDULER_POLL_INTERVAL      = "Scheduler_Poll_Interval"
	SCHEDULER_VISIBILITY_TIMEOUT = "Scheduler_Visibility_Timeout"
	SYNC_TASK_TIMEOUT            = "Sync_Task_Timeout"
	MAX_CONCURRENT_SYNCS         = "Max_Concurrent_Syncs"
	CURSOR_CLAIM_TTL             = "Cursor_Claim_TTL"
	FIELD_MAPPING_CACHE_SIZE     = "Field_Mapping_Cache_Size"
	FIELD_MAPPING_CACHE_TTL      = "Field_Mapping_Cache_TTL"

	ALERT_SYNC_ERROR_THRESHOLD         = "Alert_Sync_Error_Threshold"
	ALERT_WEBHOOK_LATENCY_THRESHOLD    = "Alert_Webhook_Latency_Threshold"
	ALERT_RATE_LIMIT_DENIAL_THRESHOLD  = "Alert_Rate_Limit_Denial_Threshold"
	ALERT_CONNECTION_FAILURE_THRESHOLD = "Alert_Connection_Failure_Threshold"
	ALERT_OBSERVATION_WINDOW           = "Alert_Observation_Window"
)

// ProviderSettings carries the published throughput ceilings and retry
// behavior for a single CRM provider.
type ProviderSettings struct {
	RequestsPerSecond      float64
	BurstLimit             int
	MaxAttempts            int
	RetryBackoffBase       float64
	RetryBackoffMax        time.Duration
	SyncPageSize           int
	CallTimeout            time.Duration
	BaseURL                string
	GatewayToken           string
	WebhookSecret          string
	WebhookSignatureScheme string
}

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool

	KafkaBrokers          []string
	KafkaOutcomesTopic    string
	KafkaOutcomesGroupID  string
	KafkaAlertsTopic      string
	KafkaAlertsBatchSize  int
	KafkaAlertsBatchBytes int
	KafkaUsername         string
	KafkaPassword         string
	KafkaSASLMechanism    string
	KafkaCA               string

	SyncDatabaseImpl         string
	SyncDatabaseHost         string
	SyncDatabasePort         int
	SyncDatabaseUser         string
	SyncDatabasePassword     string
	SyncDatabaseName         string
	SyncDatabaseSslMode      string
	SyncDatabaseSslRootCert  string
	SyncDatabaseQueryTimeout time.Duration

	RateLimiterRedisAddress  string
	RateLimiterRedisPassword string
	RateLimiterRedisDB       int

	SchedulerPollInterval      time.Duration
	SchedulerVisibilityTimeout time.Duration
	SyncTaskTimeout            time.Duration
	MaxConcurrentSyncs         int
	CursorClaimTTL             time.Duration
	FieldMappingCacheSize      int
	FieldMappingCacheTTL       time.Duration

	AlertSyncErrorThreshold         int
	AlertWebhookLatencyThreshold    time.Duration
	AlertRateLimitDenialThreshold   int
	AlertConnectionFailureThreshold int
	AlertObservationWindow          time.Duration

	Providers map[domain.Provider]ProviderSettings
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", OUTCOMES_TOPIC, c.KafkaOutcomesTopic)
	fmt.Fprintf(&b, "%s: %s\n", OUTCOMES_GROUP_ID, c.KafkaOutcomesGroupID)
	fmt.Fprintf(&b, "%s: %s\n", ALERTS_TOPIC, c.KafkaAlertsTopic)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_DATABASE_IMPL, c.SyncDatabaseImpl)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_DATABASE_HOST, c.SyncDatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", SYNC_DATABASE_PORT, c.SyncDatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_DATABASE_NAME, c.SyncDatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_DATABASE_SSL_MODE, c.SyncDatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", RATE_LIMITER_REDIS_ADDRESS, c.RateLimiterRedisAddress)
	fmt.Fprintf(&b, "%s: %s\n", SCHEDULER_POLL_INTERVAL, c.SchedulerPollInterval)
	fmt.Fprintf(&b, "%s: %s\n", SCHEDULER_VISIBILITY_TIMEOUT, c.SchedulerVisibilityTimeout)
	fmt.Fprintf(&b, "%s: %s\n", SYNC_TASK_TIMEOUT, c.SyncTaskTimeout)
	fmt.Fprintf(&b, "%s: %d\n", MAX_CONCURRENT_SYNCS, c.MaxConcurrentSyncs)
	fmt.Fprintf(&b, "%s: %s\n", CURSOR_CLAIM_TTL, c.CursorClaimTTL)
	for provider, settings := range c.Providers {
		fmt.Fprintf(&b, "Provider %s: rps=%.1f burst=%d max_attempts=%d page_size=%d\n",
			provider, settings.RequestsPerSecond, settings.BurstLimit, settings.MaxAttempts, settings.SyncPageSize)
	}
	return b.String()
}

func providerKey(provider domain.Provider, setting string) string {
	return fmt.Sprintf("Provider_%s_%s", provider, setting)
}

func setProviderDefaults(options *viper.Viper, provider domain.Provider, rps float64, burst int) {
	options.SetDefault(providerKey(provider, "Requests_Per_Second"), rps)
	options.SetDefault(providerKey(provider, "Burst_Limit"), burst)
	options.SetDefault(providerKey(provider, "Max_Attempts"), 3)
	options.SetDefault(providerKey(provider, "Retry_Backoff_Base"), 2.0)
	options.SetDefault(providerKey(provider, "Retry_Backoff_Max"), 300)
	options.SetDefault(providerKey(provider, "Sync_Page_Size"), 100)
	options.SetDefault(providerKey(provider, "Call_Timeout"), 30)
	options.SetDefault(providerKey(provider, "Base_URL"), "")
	options.SetDefault(providerKey(provider, "Gateway_Token"), "")
	options.SetDefault(providerKey(provider, "Webhook_Secret"), "")
	options.SetDefault(providerKey(provider, "Webhook_Signature_Scheme"), defaultSignatureScheme(provider))
}

func defaultSignatureScheme(provider domain.Provider) string {
	switch provider {
	case domain.ProviderHubspot:
		return "hmac-sha256"
	case domain.ProviderSalesforce:
		return "hmac-sha1"
	default:
		return "shared-token"
	}
}

func getProviderSettings(options *viper.Viper, provider domain.Provider) ProviderSettings {
	return ProviderSettings{
		RequestsPerSecond:      options.GetFloat64(providerKey(provider, "Requests_Per_Second")),
		BurstLimit:             options.GetInt(providerKey(provider, "Burst_Limit")),
		MaxAttempts:            options.GetInt(providerKey(provider, "Max_Attempts")),
		RetryBackoffBase:       options.GetFloat64(providerKey(provider, "Retry_Backoff_Base")),
		RetryBackoffMax:        options.GetDuration(providerKey(provider, "Retry_Backoff_Max")) * time.Second,
		SyncPageSize:           options.GetInt(providerKey(provider, "Sync_Page_Size")),
		CallTimeout:            options.GetDuration(providerKey(provider, "Call_Timeout")) * time.Second,
		BaseURL:                options.GetString(providerKey(provider, "Base_URL")),
		GatewayToken:           options.GetString(providerKey(provider, "Gateway_Token")),
		WebhookSecret:          options.GetString(providerKey(provider, "Webhook_Secret")),
		WebhookSignatureScheme: options.GetString(providerKey(provider, "Webhook_Signature_Scheme")),
	}
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "crm-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)

	options.SetDefault(BROKERS, []string{DEFAULT_BROKER_ADDRESS})
	options.SetDefault(OUTCOMES_TOPIC, "platform.voice.call-outcomes")
	options.SetDefault(OUTCOMES_GROUP_ID, "crm-connector-outcome-consumer")
	options.SetDefault(ALERTS_TOPIC, "platform.crm-connector.alerts")
	options.SetDefault(ALERTS_BATCH_SIZE, 100)
	options.SetDefault(ALERTS_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECHANISM, "")
	options.SetDefault(KAFKA_CA, "")

	options.SetDefault(SYNC_DATABASE_IMPL, "postgres")
	options.SetDefault(SYNC_DATABASE_HOST, "localhost")
	options.SetDefault(SYNC_DATABASE_PORT, 5432)
	options.SetDefault(SYNC_DATABASE_USER, "crm_connector")
	options.SetDefault(SYNC_DATABASE_PASSWORD, "crm_connector")
	options.SetDefault(SYNC_DATABASE_NAME, "crm-connector")
	options.SetDefault(SYNC_DATABASE_SSL_MODE, "disable")
	options.SetDefault(SYNC_DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")
	options.SetDefault(SYNC_DATABASE_QUERY_TIMEOUT, 5)

	options.SetDefault(RATE_LIMITER_REDIS_ADDRESS, "")
	options.SetDefault(RATE_LIMITER_REDIS_PASSWORD, "")
	options.SetDefault(RATE_LIMITER_REDIS_DB, 0)

	options.SetDefault(SCHEDULER_POLL_INTERVAL, 1)
	options.SetDefault(SCHEDULER_VISIBILITY_TIMEOUT, 120)
	options.SetDefault(SYNC_TASK_TIMEOUT, 90)
	options.SetDefault(MAX_CONCURRENT_SYNCS, 4)
	options.SetDefault(CURSOR_CLAIM_TTL, 120)
	options.SetDefault(FIELD_MAPPING_CACHE_SIZE, 512)
	options.SetDefault(FIELD_MAPPING_CACHE_TTL, 300)

	options.SetDefault(ALERT_SYNC_ERROR_THRESHOLD, 10)
	options.SetDefault(ALERT_WEBHOOK_LATENCY_THRESHOLD, 30)
	options.SetDefault(ALERT_RATE_LIMIT_DENIAL_THRESHOLD, 100)
	options.SetDefault(ALERT_CONNECTION_FAILURE_THRESHOLD, 3)
	options.SetDefault(ALERT_OBSERVATION_WINDOW, 300)

	setProviderDefaults(options, domain.ProviderHubspot, 10, 20)
	setProviderDefaults(options, domain.ProviderSalesforce, 5, 10)
	setProviderDefaults(options, domain.ProviderZoho, 2, 5)

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	providers := make(map[domain.Provider]ProviderSettings)
	for _, provider := range domain.KnownProviders {
		providers[provider] = getProviderSettings(options, provider)
	}

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),

		KafkaBrokers:          options.GetStringSlice(BROKERS),
		KafkaOutcomesTopic:    options.GetString(OUTCOMES_TOPIC),
		KafkaOutcomesGroupID:  options.GetString(OUTCOMES_GROUP_ID),
		KafkaAlertsTopic:      options.GetString(ALERTS_TOPIC),
		KafkaAlertsBatchSize:  options.GetInt(ALERTS_BATCH_SIZE),
		KafkaAlertsBatchBytes: options.GetInt(ALERTS_BATCH_BYTES),
		KafkaUsername:         options.GetString(KAFKA_USERNAME),
		KafkaPassword:         options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:    options.GetString(KAFKA_SASL_MECHANISM),
		KafkaCA:               options.GetString(KAFKA_CA),

		SyncDatabaseImpl:         options.GetString(SYNC_DATABASE_IMPL),
		SyncDatabaseHost:         options.GetString(SYNC_DATABASE_HOST),
		SyncDatabasePort:         options.GetInt(SYNC_DATABASE_PORT),
		SyncDatabaseUser:         options.GetString(SYNC_DATABASE_USER),
		SyncDatabasePassword:     options.GetString(SYNC_DATABASE_PASSWORD),
		SyncDatabaseName:         options.GetString(SYNC_DATABASE_NAME),
		SyncDatabaseSslMode:      options.GetString(SYNC_DATABASE_SSL_MODE),
		SyncDatabaseSslRootCert:  options.GetString(SYNC_DATABASE_SSL_ROOT_CERT),
		SyncDatabaseQueryTimeout: options.GetDuration(SYNC_DATABASE_QUERY_TIMEOUT) * time.Second,

		RateLimiterRedisAddress:  options.GetString(RATE_LIMITER_REDIS_ADDRESS),
		RateLimiterRedisPassword: options.GetString(RATE_LIMITER_REDIS_PASSWORD),
		RateLimiterRedisDB:       options.GetInt(RATE_LIMITER_REDIS_DB),

		SchedulerPollInterval:      options.GetDuration(SCHEDULER_POLL_INTERVAL) * time.Second,
		SchedulerVisibilityTimeout: options.GetDuration(SCHEDULER_VISIBILITY_TIMEOUT) * time.Second,
		SyncTaskTimeout:            options.GetDuration(SYNC_TASK_TIMEOUT) * time.Second,
		MaxConcurrentSyncs:         options.GetInt(MAX_CONCURRENT_SYNCS),
		CursorClaimTTL:             options.GetDuration(CURSOR_CLAIM_TTL) * time.Second,
		FieldMappingCacheSize:      options.GetInt(FIELD_MAPPING_CACHE_SIZE),
		FieldMappingCacheTTL:       options.GetDuration(FIELD_MAPPING_CACHE_TTL) * time.Second,

		AlertSyncErrorThreshold:         options.GetInt(ALERT_SYNC_ERROR_THRESHOLD),
		AlertWebhookLatencyThreshold:    options.GetDuration(ALERT_WEBHOOK_LATENCY_THRESHOLD) * time.Second,
		AlertRateLimitDenialThreshold:   options.GetInt(ALERT_RATE_LIMIT_DENIAL_THRESHOLD),
		AlertConnectionFailureThreshold: options.GetInt(ALERT_CONNECTION_FAILURE_THRESHOLD),
		AlertObservationWindow:          options.GetDuration(ALERT_OBSERVATION_WINDOW) * time.Second,

		Providers: providers,
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}

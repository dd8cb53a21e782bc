package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the engine process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Dialer   DialerConfig
	Plivo    PlivoConfig
	ESL      ESLConfig
	Callback CallbackConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// AMQPConfig points at the broker backing the delayed-dispatch queue.
// URL may be empty; the engine then falls back to the in-process timer queue.
type AMQPConfig struct {
	URL string
}

// DialerConfig selects the telephony backend and tunes the event loop.
type DialerConfig struct {
	// Engine is one of: dummy, plivo, esl.
	Engine string

	// DebugPhoneNumber overrides every dialed destination when set.
	DebugPhoneNumber string

	// AnswerURL / SurveyAnswerURL / HangupURL are the default callback
	// endpoints handed to backends at dispatch time.
	AnswerURL       string
	SurveyAnswerURL string
	HangupURL       string

	// EventBatchSize bounds how many unconsumed events one scheduler
	// pass claims.
	EventBatchSize int

	// PollInterval is the periodic trigger interval.
	PollInterval time.Duration

	// LockTTL is the expiry ceiling on the periodic-job lock.
	LockTTL time.Duration
}

type PlivoConfig struct {
	URL       string
	AuthID    string
	AuthToken string
}

type ESLConfig struct {
	Host     string
	Port     int
	Password string
}

// CallbackConfig signs the answer/hangup callback URLs handed to backends.
type CallbackConfig struct {
	Secret   string
	TokenTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))

	c.Dialer.Engine = strings.ToLower(strings.TrimSpace(os.Getenv("DIALER_ENGINE")))
	c.Dialer.DebugPhoneNumber = strings.TrimSpace(os.Getenv("DIALER_DEBUG_PHONENUMBER"))
	c.Dialer.AnswerURL = strings.TrimSpace(os.Getenv("DIALER_ANSWER_URL"))
	c.Dialer.SurveyAnswerURL = strings.TrimSpace(os.Getenv("DIALER_SURVEY_ANSWER_URL"))
	c.Dialer.HangupURL = strings.TrimSpace(os.Getenv("DIALER_HANGUP_URL"))
	c.Dialer.EventBatchSize = optInt("DIALER_EVENT_BATCH_SIZE")
	c.Dialer.PollInterval = optDuration("DIALER_POLL_INTERVAL")
	c.Dialer.LockTTL = optDuration("DIALER_LOCK_TTL")

	c.Plivo.URL = strings.TrimSpace(os.Getenv("PLIVO_URL"))
	c.Plivo.AuthID = strings.TrimSpace(os.Getenv("PLIVO_AUTH_ID"))
	c.Plivo.AuthToken = os.Getenv("PLIVO_AUTH_TOKEN")

	c.ESL.Host = strings.TrimSpace(os.Getenv("ESL_HOST"))
	c.ESL.Port = optInt("ESL_PORT")
	c.ESL.Password = os.Getenv("ESL_PASSWORD")

	c.Callback.Secret = os.Getenv("CALLBACK_SECRET")
	c.Callback.TokenTTL = optDuration("CALLBACK_TOKEN_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Dialer.Engine == "" {
		errs = append(errs, errors.New("DIALER_ENGINE is required"))
	} else if !isValidEngine(c.Dialer.Engine) {
		errs = append(errs, fmt.Errorf("DIALER_ENGINE must be one of dummy, plivo, esl, got %q", c.Dialer.Engine))
	}
	switch c.Dialer.Engine {
	case "plivo":
		if c.Plivo.URL == "" {
			errs = append(errs, errors.New("PLIVO_URL is required when DIALER_ENGINE=plivo"))
		}
	case "esl":
		if c.ESL.Host == "" {
			errs = append(errs, errors.New("ESL_HOST is required when DIALER_ENGINE=esl"))
		}
		if c.ESL.Port <= 0 || c.ESL.Port > 65535 {
			errs = append(errs, fmt.Errorf("ESL_PORT must be a valid port, got %d", c.ESL.Port))
		}
	}

	if c.Callback.Secret == "" {
		errs = append(errs, errors.New("CALLBACK_SECRET is required"))
	}

	if c.Dialer.EventBatchSize <= 0 {
		// Matches the event-table scan bound of the switch-side channel.
		c.Dialer.EventBatchSize = 1000
	}
	if c.Dialer.PollInterval <= 0 {
		c.Dialer.PollInterval = 10 * time.Second
	}
	if c.Dialer.LockTTL <= 0 {
		c.Dialer.LockTTL = time.Minute
	}
	if c.Callback.TokenTTL <= 0 {
		c.Callback.TokenTTL = time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) ESLAddr() string {
	return fmt.Sprintf("%s:%d", c.ESL.Host, c.ESL.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidEngine(v string) bool {
	switch v {
	case "dummy", "plivo", "esl":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

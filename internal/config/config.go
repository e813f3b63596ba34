package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr        string // e.g. nsqd:4150
	NsqdHTTPAddr       string // e.g. nsqd:4151, used for backlog stats
	LookupHTTPAddr     string // e.g. http://nsqlookupd:4161
	RevalidationsTopic string // NSQ topic carrying delivery tasks
	WorkerChannel      string // NSQ channel name for delivery workers
}

type Delivery struct {
	MaxAttempts    int           // attempt budget per dispatch cycle
	BaseDelay      time.Duration // first retry delay
	Multiplier     float64       // exponential backoff multiplier
	MaxDelay       time.Duration // backoff cap
	JitterPercent  float64       // backoff jitter percentage (0.0-1.0)
	AttemptTimeout time.Duration // per-attempt HTTP timeout
}

type Revalidate struct {
	TargetURL    string // downstream cache-revalidation endpoint
	Secret       string // shared secret carried in the header
	SecretHeader string // header name, e.g. X-Revalidate-Secret
}

type Auth struct {
	PublicKeyPEM string // RSA public key for operator JWTs
	Issuer       string
	Audience     string
}

type Retention struct {
	Schedule       string        // cron expression for the sweep
	DeliveryWindow time.Duration // keep successful delivery records this long
	AuditWindow    time.Duration // keep audit records this long
}

type Worker struct {
	HTTPPort    string // worker health/metrics port
	MaxInFlight int
}

type FakeReceiver struct {
	FailFirstN   int    // number of requests to fail initially
	Secret       string // expected revalidation secret
	Port         string // server listen port
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	DB           DB
	NSQ          NSQ
	Delivery     Delivery
	Revalidate   Revalidate
	Auth         Auth
	Retention    Retention
	Worker       Worker
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "presshook"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "presshook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:        getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:       getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr:     getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			RevalidationsTopic: getenv("NSQ_REVALIDATIONS_TOPIC", "revalidations"),
			WorkerChannel:      getenv("NSQ_WORKER_CHANNEL", "deliverers"),
		},
		Delivery: Delivery{
			MaxAttempts:    getenvInt("MAX_ATTEMPTS", 5),
			BaseDelay:      getenvDuration("BACKOFF_BASE_DELAY", time.Second),
			Multiplier:     getenvFloat("BACKOFF_MULTIPLIER", 4),
			MaxDelay:       getenvDuration("BACKOFF_MAX_DELAY", 10*time.Minute),
			JitterPercent:  getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			AttemptTimeout: getenvDuration("ATTEMPT_TIMEOUT", 10*time.Second),
		},
		Revalidate: Revalidate{
			TargetURL:    getenv("REVALIDATE_TARGET_URL", ""),
			Secret:       getenv("REVALIDATE_SECRET", ""),
			SecretHeader: getenv("REVALIDATE_SECRET_HEADER", "X-Revalidate-Secret"),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_PUBLIC_KEY_PEM", ""),
			Issuer:       getenv("AUTH_ISSUER", "presshook"),
			Audience:     getenv("AUTH_AUDIENCE", "presshook-admin"),
		},
		Retention: Retention{
			Schedule:       getenv("RETENTION_SCHEDULE", "@hourly"),
			DeliveryWindow: getenvDuration("RETENTION_DELIVERY_WINDOW", 720*time.Hour),
			AuditWindow:    getenvDuration("RETENTION_AUDIT_WINDOW", 2160*time.Hour),
		},
		Worker: Worker{
			HTTPPort:    ":" + getenv("WORKER_HTTP_PORT", "8083"),
			MaxInFlight: getenvInt("WORKER_MAX_IN_FLIGHT", 1000),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:   getenvInt("FAIL_FIRST_N", 0),
			Secret:       getenv("RECEIVER_SECRET", ""),
			Port:         getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:  getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultUpstreamBaseURL = "http://localhost:8081/api"
	defaultPhoneRegion     = "IN"
)

func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func BoolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// UpstreamBaseURL is the root of the SimplERP REST API, without trailing slash.
func UpstreamBaseURL() string {
	v := strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL"))
	if v == "" {
		v = defaultUpstreamBaseURL
	}
	return strings.TrimRight(v, "/")
}

func UpstreamTimeout() time.Duration {
	return time.Duration(IntFromEnv("UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second
}

func UpstreamMaxRetries() int {
	n := IntFromEnv("UPSTREAM_MAX_RETRIES", 2)
	if n < 0 {
		return 0
	}
	return n
}

func TokenLifespan() time.Duration {
	hours := IntFromEnv("TOKEN_HOUR_LIFESPAN", 12)
	if hours <= 0 {
		hours = 12
	}
	return time.Duration(hours) * time.Hour
}

func DefaultPhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION")))
	if v == "" {
		return defaultPhoneRegion
	}
	return v
}

func AttachmentMaxPixels() int {
	return IntFromEnv("ATTACHMENT_MAX_PX", 1600)
}

func SummaryMaxPages() int {
	return IntFromEnv("SUMMARY_MAX_PAGES", 50)
}

func SummaryCacheTTL() time.Duration {
	return time.Duration(IntFromEnv("SUMMARY_CACHE_SECONDS", 60)) * time.Second
}

func ExportBucket() string {
	return strings.TrimSpace(os.Getenv("EXPORT_BUCKET"))
}

package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.host":            "0.0.0.0",
		"server.port":            8080,
		"server.task_path":       "/tasks/search",
		"server.request_timeout": "150s",

		"store.driver":            "badger",
		"store.path":              "./data/searchjobs",
		"store.max_connections":   10,
		"store.database_url":      "",
		"store.collection_prefix": "",

		"gcp.project_id":       "",
		"gcp.credentials_file": "",
		"gcp.push_endpoint":    "",
		"gcp.push_audience":    "",
		"gcp.service_account":  "",
		"gcp.topic":            "search-job-ticks",
		"gcp.subscription":     "search-job-ticks-push",
		"gcp.ack_deadline":     "180s",
		"gcp.min_backoff":      "5s",
		"gcp.max_backoff":      "60s",

		"queue.transport":                  "local",
		"queue.qstash.url":                 "https://qstash.upstash.io",
		"queue.qstash.retries":             3,
		"queue.qstash.token":               "",
		"queue.qstash.callback_url":        "",
		"queue.qstash.current_signing_key": "",
		"queue.qstash.next_signing_key":    "",

		"engine.max_runs":            50,
		"engine.sufficient_fraction": 0.8,
		"engine.base_delay":          "5s",
		"engine.delay_step":          "2s",
		"engine.delay_cap_runs":      10,
		"engine.job_timeout":         "60m",
		"engine.provider_timeout":    "45s",
		"engine.max_target":          5000,

		"providers.scrapecreators.base_url":   "https://api.scrapecreators.com",
		"providers.scrapecreators.rate_limit": 5,
		"providers.scrapecreators.key_header": "x-api-key",
		"providers.scrapecreators.api_key":    "",
		"providers.apify.base_url":            "https://api.apify.com",
		"providers.apify.rate_limit":          2,
		"providers.apify.key_query":           "token",
		"providers.apify.api_key":             "",
		"providers.serpapi.base_url":          "https://serpapi.com",
		"providers.serpapi.rate_limit":        2,
		"providers.serpapi.key_query":         "api_key",
		"providers.serpapi.api_key":           "",

		"api.jwt_issuer": "creatorscout",
		"api.jwt_secret": "",

		"notify.driver":        "log",
		"notify.webhook_url":   "",
		"notify.webhook_token": "",

		"sweeper.enabled":     true,
		"sweeper.schedule":    "*/30 * * * * *",
		"sweeper.stall_after": "5m",
		"sweeper.batch_size":  100,

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}

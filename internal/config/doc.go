// Package config handles configuration loading for endobot.
//
// # Overview
//
// Configuration is read from a YAML file, or TOML when the file name ends in
// .toml, layered over built-in defaults and then over a fixed set of
// environment variables. A missing file is not an error.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ENDOBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/endobot/config.yaml
//  3. ~/.config/endobot/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	upstream:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// These win over the file when set and non-empty:
//
//	OPENAI_API_KEY          upstream.api_key
//	OPENAI_WORKFLOW_ID      upstream.workflow_id
//	CHATKIT_WORKFLOW_ID     upstream.workflow_id (when OPENAI_WORKFLOW_ID is unset)
//	OPENAI_WORKFLOW_VERSION upstream.workflow_version
//	CHATKIT_API_BASE        upstream.api_base
//	PM_DATABASE_URL_RO      prompts.database_url
//	ENDOBOT_DB_PATH         database.path
//	VERCEL                  forces session.secure
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	upstream:
//	  request_timeout: "60s"
//	  idle_timeout: "60s"
//	session:
//	  max_age: "720h"
//	dedupe:
//	  ttl: "5m"
//
// # Sections
//
//	server     http_addr, shutdown_timeout
//	database   driver (sqlite|memory), path
//	upstream   workflow endpoint, mode (stream|complete), heartbeat_policy (reset|ignore), history_limit, fallbacks
//	session    cookie_name, max_age, secure
//	auth       jwt_secret (empty selects session cookie identity)
//	logging    level, format (text|json)
//	metrics    enabled, path
//	dedupe     ttl, max_entries
//	prompts    database_url (read-only Postgres)
//	notify     nats_url, token, subject
//	cors       allowed_origins
package config

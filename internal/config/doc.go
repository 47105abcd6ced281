// Package config loads nova.config.json: per-plugin and per-agent
// enablement, the default agent reference, and server bind settings.
//
// Load never fails at startup: a missing or malformed file falls back
// to DefaultConfig with a logged warning. A Loader wraps the parsed
// config for process-lifetime use, supports an explicit Reload, and can
// optionally watch the file with fsnotify to reload automatically when
// it changes on disk.
package config

package config

import "strings"

func (c *Config) normalize() {
	c.Queues.Backend = strings.ToLower(strings.TrimSpace(c.Queues.Backend))
	c.Queues.Signatures = strings.TrimSpace(c.Queues.Signatures)
	c.Queues.Validations = strings.TrimSpace(c.Queues.Validations)
	c.Queues.Handoff = strings.TrimSpace(c.Queues.Handoff)

	c.SQL.Driver = strings.ToLower(strings.TrimSpace(c.SQL.Driver))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.SQL.DSN == "" && c.SQL.Driver == "" {
		c.SQL.Database = c.Store
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	c.Metrics.Exporter = strings.ToLower(strings.TrimSpace(c.Metrics.Exporter))
	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = ExporterNone
	}

	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	c.Archive.KeyPrefix = strings.Trim(strings.TrimSpace(c.Archive.KeyPrefix), "/")
	c.Archive.Compression = strings.ToLower(strings.TrimSpace(c.Archive.Compression))
	if c.Archive.KeyPrefix == "" {
		c.Archive.KeyPrefix = Default().Archive.KeyPrefix
	}
}

// Package influxdb mirrors node telemetry (temperatures, statistics and OTA
// progress) into an InfluxDB v2 bucket.
//
// The mirror is optional: when influxdb.enabled is false Connect returns
// ErrDisabled and the reporter runs without it.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, identity.ShortID())
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    logger.Warn("influxdb unavailable", "error", err)
//	}
package influxdb

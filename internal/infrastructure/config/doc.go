// Package config loads mqttlink configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// MQTTLINK_* environment variables (nested sections use the section name
// as a prefix, e.g. MQTTLINK_MQTT_RECONNECT_MAX_ATTEMPTS). Validate reports
// every problem in one error rather than stopping at the first.
//
// Keep broker passwords and the InfluxDB token out of the YAML file; set
// them through the environment or a .env file instead.
//
//	cfg, err := config.Load("mqttlink.yaml")
//	if err != nil {
//	    return err
//	}
//	url := cfg.MQTT.BrokerURL()
package config

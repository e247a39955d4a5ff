// Package mqtt is the node's publish/subscribe transport.
//
// It wraps paho.mqtt.golang and adds:
//   - A per-node topic scheme: <prefix>/<device>/<short-id>/<suffix>
//   - A retained online/offline status topic backed by Last Will
//   - Subscription tracking and restore after reconnect
//   - Panic recovery around message handlers
//
// Status records (OTA progress, statistics, temperatures) are published by
// the packages that own them through the Publish method; this package only
// moves bytes.
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: "home", Device: "boiler", ShortID: id.ShortID()}
//	client, err := mqtt.Connect(cfg.MQTT, topics,
//	    mqtt.WithOnConnect(ctrl.OnConnect),
//	    mqtt.WithOnDisconnect(ctrl.OnDisconnect),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(topics.Statistics(), payload, 0, true)
package mqtt

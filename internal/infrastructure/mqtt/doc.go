// Package mqtt provides the broker connection used by the uplink session.
//
// This package manages:
//   - One connection per session attempt (no internal reconnect)
//   - Publishing with a bounded wait for acknowledgement
//   - Command subscriptions with panic-safe handlers
//   - Retained online/offline status with a Last Will
//
// # Topics
//
// All topics live under a configurable prefix (default "locks/internal"):
//
//	{prefix}/mac            device hardware address, published on connect
//	{prefix}/command        remote commands, subscribed ("sync")
//	{prefix}/events/{name}  access and sync events
//	{prefix}/status         retained online/offline, also the LWT
//
// # Usage
//
//	client, err := mqtt.ConnectContext(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.Command(), 0, func(topic string, payload []byte) error {
//	    commands <- string(payload)
//	    return nil
//	})
package mqtt

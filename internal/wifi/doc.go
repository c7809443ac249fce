// Package wifi manages the controller's station-mode network interface.
//
// It provides a Link for the uplink monitor and, when configured to, runs
// wpa_supplicant under a Supervisor that restarts it on failure and kills
// it when its control interface stops answering.
//
// Example usage:
//
//	link := wifi.NewLink(cfg.WiFi)
//	link.SetLogger(log.Component("wifi"))
//	defer link.Close()
//
//	monitor := uplink.NewMonitor(link, uplink.MonitorConfig{
//	    CredentialsFile: cfg.WiFi.CredentialsFile,
//	})
//	go monitor.Run(ctx)
package wifi

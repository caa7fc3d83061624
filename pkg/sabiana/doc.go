// Package sabiana provides a client for Sabiana cloud-connected
// climate units: fan coils and heat recovery units managed through the
// Sabiana Wireless Module backend.
//
// # Basic Usage
//
//	ctx := context.Background()
//	client, err := sabiana.New(ctx, "user@example.com", "secret")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	for _, id := range client.DeviceIDs() {
//	    state, _ := client.State(id)
//	    fmt.Printf("%s: %s %.1f°C\n", state.Name, state.Mode, state.CurrentTemp)
//	}
//
// # Configuration
//
// The client can be configured using functional options:
//
//	client, err := sabiana.New(ctx, email, password,
//	    sabiana.WithHTTPTimeout(5*time.Second),
//	    sabiana.WithCacheTTL(30*time.Second),
//	    sabiana.WithLogger(slog.Default()),
//	)
//
// # Synchronization
//
// Device state is kept current two ways. Callers poll through Refresh,
// which reads the backend device listing behind a minimum-interval
// cache so many devices polling at once collapse into one HTTP call.
// Independently, the backend pushes unsolicited per-device events over
// a persistent stream; each event updates the cached state immediately
// and fires the refresh callback subscribed for that device.
//
// Commands written with PushCommand are encoded into the backend's
// fixed-width hexadecimal register format and are not rate limited.
package sabiana

// Package irkeyd exposes the Go APIs behind the IR remote-control daemon.
// The daemon serves a browser remote for a key table of IR scancodes and
// turns click/down/up actions into transmit-tool invocations, repeating the
// send while a key stays held and force-releasing it after a safety timeout.
//
// # Running a server
//
//	cfg := irkeyd.Config{
//	    Device:  "/dev/lirc0",
//	    KeyFile: "/etc/irkeyd/key.json",
//	    Listen:  ":8000",
//	}
//	srv, err := irkeyd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("irkeyd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("irkeyd shutdown: %v", err)
//	    }
//	}()
//
// The HTTP surface is small: POST /action drives presses, GET /key.json
// serves the key table, GET / serves the remote page, and GET /healthz
// reports liveness. Held keys are tracked per (client, key) pair, so two
// browsers holding the same key repeat independently.
//
// Tests can substitute the hardware with WithTransmitter and drive the
// repeat scheduler deterministically with WithClock.
package irkeyd

// Command simd runs the simulated data server standalone, for demos and for
// exercising clients in other languages.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/benchtop-labs/lockin/sim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8004", "address to listen at")
	devices := flag.String("devices", "dev1234:MFLI:PID,MD", "simulated devices as id:type:opt1,opt2 separated by ;")
	flag.Parse()

	srv := sim.New()
	srv.ListenAddr = *addr
	for i, entry := range strings.Split(*devices, ";") {
		parts := strings.SplitN(entry, ":", 3)
		if parts[0] == "" || strings.EqualFold(parts[0], "dev1234") && i == 0 {
			continue // dev1234 is built in
		}
		d := sim.Device{ID: parts[0], DeviceType: "MFLI", Interface: "1GbE"}
		if len(parts) > 1 && parts[1] != "" {
			d.DeviceType = parts[1]
		}
		if len(parts) > 2 && parts[2] != "" {
			d.Options = strings.Split(parts[2], ",")
		}
		srv.AddDevice(d)
	}

	got, err := srv.Start()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("simulated data server listening at", got)
	select {}
}

// emgdump prints the first N EMG telemetry packets received on a UDP
// port, for checking that a sender is actually reaching this machine.
package main

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gaitlab/emgrecv"
)

func probe(npack int, endpoint string) error {
	fmt.Printf("Probing %s for the first %d packets received...\n", endpoint, npack)
	address, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", address)
	if err != nil {
		return err
	}
	defer conn.Close()

	buf := make([]byte, 8192)
	for range npack {
		n, sender, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		rec, err := emgrecv.DecodePacket(buf[:n])
		if err != nil {
			fmt.Printf("%4d bytes from %s: %v\n", n, sender.IP, err)
			continue
		}
		v := 0
		if rec.Valid {
			v = 1
		}
		fmt.Printf("%4d bytes from %s: ts=%.6f aTA=%.3f aGAS=%.3f valid=%d\n",
			n, sender.IP, rec.TS, rec.ATA, rec.AGAS, v)
	}
	return nil
}

func main() {
	var npack int
	var port int
	const default_host = "localhost"
	default_port := emgrecv.DefaultPort
	host := default_host
	flag.IntVar(&npack, "n", 10, "Number of packets to dump")
	flag.IntVar(&port, "port", default_port, "Port to monitor")
	flag.IntVar(&port, "p", default_port, "Port to monitor (shorthand)")

	flag.Usage = func() {
		fmt.Printf("emgdump, for dumping the first N telemetry packets, by default those from localhost:%d\n",
			default_port)
		fmt.Println("Usage: emgdump [flags] [host][:port]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 0 {
		host = flag.Arg(0)

		// If host ends in :portnum, split that off and update the port value
		if pieces := strings.Split(host, ":"); len(pieces) > 1 {
			if len(pieces) > 2 {
				fmt.Printf("Cannot parse host '%s' with %d colon separators\n", host, len(pieces)-1)
				return
			}
			attachedport, err := strconv.Atoi(pieces[1])
			if err != nil {
				fmt.Printf("Cannot convert port '%s' to integer\n", pieces[1])
				return
			}
			if port != default_port && port != attachedport {
				fmt.Printf("Cannot use -p argument and a conflicting host:port pair\n")
				return
			}
			if len(pieces[0]) == 0 {
				host = default_host
			} else {
				host = pieces[0]
			}
			port = attachedport
		}
	}

	endpoint := fmt.Sprintf("%s:%d", host, port)
	if err := probe(npack, endpoint); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

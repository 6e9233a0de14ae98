// emgsim generates a synthetic EMG feature stream for exercising the
// receiver without hardware: JSON packets over UDP with slow sinusoidal
// activation envelopes plus noise, at a configurable rate.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type packet struct {
	TS    float64 `json:"ts"`
	ATA   float64 `json:"aTA"`
	AGAS  float64 `json:"aGAS"`
	Valid bool    `json:"valid"`
}

func clamp01(x float64) float64 {
	return math.Max(0.0, math.Min(1.0, x))
}

func generateData(conn *net.UDPConn, cancel chan os.Signal, rate float64, noiselevel, invalidFrac, garbleFrac float64) error {
	period := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	nsent := 0
	for {
		select {
		case <-cancel:
			fmt.Printf("Sent %d packets.\n", nsent)
			return nil
		case <-ticker.C:
			t := time.Since(start).Seconds()

			if garbleFrac > 0 && rand.Float64() < garbleFrac {
				// A deliberately broken packet, to exercise the
				// receiver's reject path.
				if _, err := conn.Write([]byte("{\"ts\": broken")); err != nil {
					return err
				}
				nsent++
				continue
			}

			// Counter-phased gait-like envelopes: when the tibialis
			// anterior is active the gastrocnemius mostly is not.
			p := packet{
				TS:    t,
				ATA:   clamp01(0.5 + 0.4*math.Sin(2*math.Pi*0.8*t) + noiselevel*rand.NormFloat64()),
				AGAS:  clamp01(0.5 - 0.4*math.Sin(2*math.Pi*0.8*t) + noiselevel*rand.NormFloat64()),
				Valid: rand.Float64() >= invalidFrac,
			}
			raw, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if _, err := conn.Write(raw); err != nil {
				return err
			}
			nsent++
		}
	}
}

func main() {
	target := flag.String("target", "localhost:5005", "host:port to send packets to")
	rate := flag.Float64("rate", 100.0, "packets per second")
	noiselevel := flag.Float64("noise", 0.05, "gaussian noise level added to each channel")
	invalidFrac := flag.Float64("invalid", 0.0, "fraction of packets flagged valid=false")
	garbleFrac := flag.Float64("garble", 0.0, "fraction of packets sent malformed")
	flag.Usage = func() {
		fmt.Println("emgsim, a synthetic EMG feature stream for receiver testing")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		fmt.Printf("cannot resolve %s: %v\n", *target, err)
		os.Exit(1)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		fmt.Printf("cannot dial %s: %v\n", *target, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Sending %.0f packets/s to %s. Press Ctrl+C to stop.\n", *rate, *target)
	cancel := make(chan os.Signal, 1)
	signal.Notify(cancel, os.Interrupt, syscall.SIGTERM)
	if err := generateData(conn, cancel, *rate, *noiselevel, *invalidFrac, *garbleFrac); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

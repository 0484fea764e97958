package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/identity"
)

func main() {
	var outputPath string
	var showPath string
	var displayOnly bool
	var lat, lon float64

	flag.StringVar(&outputPath, "output", "", "Output path for identity key")
	flag.StringVar(&showPath, "show", "", "Inspect an existing identity key instead of generating one")
	flag.BoolVar(&displayOnly, "display-only", false, "Only display identity info, don't save")
	flag.Float64Var(&lat, "lat", 0, "Latitude to embed in the derived address")
	flag.Float64Var(&lon, "lon", 0, "Longitude to embed in the derived address")
	flag.Parse()

	// The zero coordinate is a real place, so only a visited flag counts
	// as a claimed location.
	var hasLocation bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lon" {
			hasLocation = true
		}
	})

	var ident *identity.Identity
	var err error

	if showPath != "" {
		ident, err = identity.Load(showPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load identity: %v\n", err)
			os.Exit(1)
		}
	} else {
		ident, err = identity.Generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate identity: %v\n", err)
			os.Exit(1)
		}
	}

	var coord *address.Coordinate
	if hasLocation {
		coord = &address.Coordinate{Latitude: lat, Longitude: lon}
	}

	addr, err := ident.Address(coord)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to derive address: %v\n", err)
		os.Exit(1)
	}

	peerID, err := ident.PeerID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to derive peer ID: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mesh address: %s\n", addr.String())
	fmt.Printf("Node ID:      %s\n", addr.NodeID().String())
	if addr.HasLocation() {
		fmt.Printf("Proximity:    %s\n", addr.Proximity())
	}
	fmt.Printf("Peer ID:      %s\n", peerID.String())

	// Inspection never writes; generation writes unless told not to.
	if showPath != "" || displayOnly {
		return
	}

	if outputPath == "" {
		fmt.Fprintln(os.Stderr, "Output path is required (or pass -display-only)")
		os.Exit(1)
	}

	if err := ident.Save(outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save identity: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Identity saved to: %s\n", outputPath)
}

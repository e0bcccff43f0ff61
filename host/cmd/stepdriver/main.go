package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"stepdriver/config"
	"stepdriver/core"
	"stepdriver/host/mcu"
	"stepdriver/host/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (ignored for USB CDC)")
	backendLib = flag.String("serial", "", "Serial library: tarm or bugst")
	configPath = flag.String("config", "machine.yaml", "Machine configuration file")
	local      = flag.Bool("local", false, "Drive chips from this machine's GPIO instead of an MCU")
	list       = flag.Bool("list", false, "List serial ports and exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	if *list {
		ports, err := serial.ListPorts()
		if err != nil {
			fatalf("%v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	if !*local {
		if err := cfg.ValidateRemote(); err != nil {
			fatalf("%s: %v", *configPath, err)
		}
	}

	if *verbose {
		core.SetDebugWriter(func(s string) { fmt.Fprintln(os.Stderr, s) })
		core.SetDebugEnabled(true)
	}

	sh := &shell{out: os.Stdout}
	if *local {
		b, err := newLocalBackend(cfg, nil)
		if err != nil {
			fatalf("local GPIO: %v", err)
		}
		sh.b = b
	} else {
		m, err := connect(cfg)
		if err != nil {
			fatalf("%v", err)
		}
		b, err := newRemoteBackend(m, cfg)
		if err != nil {
			m.Close()
			fatalf("%v", err)
		}
		sh.b, sh.mcu = b, m
	}
	defer sh.b.Close()

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if err := sh.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

// connect opens the serial link and loads the MCU dictionary
func connect(cfg *config.Config) (*mcu.MCU, error) {
	sc := serial.DefaultConfig(cfg.Transport.Device)
	sc.Baud = cfg.Transport.Baud
	sc.Backend = serial.Backend(cfg.Transport.Backend)
	if *device != "" {
		sc.Device = *device
	}
	if *baud != 0 {
		sc.Baud = *baud
	}
	if *backendLib != "" {
		sc.Backend = serial.Backend(*backendLib)
	}
	if sc.Device == "" {
		return nil, errors.New("no serial device: set transport.device or -device")
	}

	m := mcu.NewMCU()
	m.Verbose = *verbose
	fmt.Printf("Connecting to MCU on %s...\n", sc.Device)
	if err := m.ConnectWithConfig(sc); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to retrieve dictionary: %w", err)
	}
	if *verbose {
		m.PrintDictionary(os.Stdout)
	}
	return m, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"github.com/joho/godotenv"
	"github.com/womat/mbserver"

	"github.com/fisaks/uhn-gripper/internal/logging"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// parseIDs reads a comma separated list of unit ids.
func parseIDs(s string) []uint8 {
	var ids []uint8
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id < 1 || id > 247 {
			logging.Fatal("Invalid gripper id", "value", part)
		}
		ids = append(ids, uint8(id))
	}
	return ids
}

func main() {
	_ = godotenv.Load()
	logging.Init()

	portName := getenv("SIM_PORT", "/dev/ttyUSB1")
	ids := parseIDs(getenv("SIM_DEVICE_IDS", "1"))

	s := mbserver.NewServer()
	grippers := make(map[uint8]*simGripper, len(ids))
	for _, id := range ids {
		if id != 1 {
			if err := s.NewDevice(id); err != nil {
				logging.Fatal("NewDevice failed", "id", id, "error", err)
			}
		}
		grippers[id] = newSimGripper(id, s.Devices[id])
	}

	port, err := serial.Open(&serial.Config{
		Address:  portName,
		BaudRate: getenvInt("SIM_BAUD", 115200),
		DataBits: 8,
		StopBits: 1,
		Parity:   getenv("SIM_PARITY", "N"),
		Timeout:  2 * time.Second,
	})
	if err != nil {
		logging.Fatal("Serial open failed", "port", portName, "error", err)
	}
	defer port.Close()

	if err := s.ListenRTU(port); err != nil {
		logging.Fatal("ListenRTU failed", "error", err)
	}
	logging.Info("Gripper simulator ready", "port", portName, "devices", ids)

	go runPhysics(grippers)
	if err := startRestAPI(getenv("SIM_REST_ADDR", ":8080"), grippers); err != nil {
		logging.Fatal("REST API stopped", "error", err)
	}
}

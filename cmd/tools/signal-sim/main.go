package main

// cSpell:ignore mbserver Modbus
import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tbrandon/mbserver"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/fisaks/uhn-gripper/internal/util"
)

const channels = gripper.MaxSignalChannel

func main() {
	_ = godotenv.Load()
	logging.Init()

	addr := os.Getenv("MB_LISTEN_ADDR")
	if addr == "" {
		addr = ":1502"
	}

	srv := mbserver.NewServer()
	// Holding registers carry a static gripper file so a TCP-gateway transport
	// can complete its identity check against this slave.
	if id, err := strconv.Atoi(os.Getenv("SIM_GRIPPER_ID")); err == nil && id >= gripper.MinDeviceID && id <= gripper.MaxDeviceID {
		srv.HoldingRegisters[gripper.RegGripperID.Addr] = uint16(id)
		srv.HoldingRegisters[gripper.RegBaudCode.Addr] = 4
		srv.HoldingRegisters[gripper.RegInitStatus.Addr] = gripper.InitDone
	}

	if err := srv.ListenTCP(addr); err != nil {
		logging.Fatal("ListenTCP failed", "addr", addr, "error", err)
	}
	defer srv.Close()
	logging.Info("Signal simulator listening", "addr", addr, "channels", channels)

	// Log output changes, channel 1 first
	last := ""
	for {
		time.Sleep(250 * time.Millisecond)
		bits := make([]bool, channels)
		for i := range bits {
			bits[i] = srv.Coils[i] != 0
		}
		if s := util.BoolsToBinaryString(bits); s != last {
			logging.Info("Digital outputs", "channels", s)
			last = s
		}
	}
}
